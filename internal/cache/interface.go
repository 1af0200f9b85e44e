package cache

import "time"

// Cache defines the interface for the backends that hold published display snapshots
type Cache interface {
	Get(key string) (interface{}, bool)
	SetWithTTL(key string, value interface{}, ttl time.Duration)
	Delete(key string)
	Close() error
}

// Notifier is implemented by backends that can tell other processes a key was rewritten.
type Notifier interface {
	Notify(key string, payload interface{}) error
}
