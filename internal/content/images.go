package content

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultPlaceholder is shown whenever an entry has no usable image.
const DefaultPlaceholder = "assets/placeholder.png"

var ErrUnresolvableImage = errors.New("unresolvable image reference")

// Resolver turns image references found in entries into absolute URLs.
type Resolver struct {
	base          *url.URL
	corruptPrefix string
	placeholder   string
}

// NewResolver builds a resolver for baseURL. When corruptPrefix is empty it defaults to the
// plain-HTTP form of the base origin, e.g. "http://fct.ufg.br" for "https://fct.ufg.br",
// which the upstream CMS sometimes glues in front of already-absolute https URLs.
func NewResolver(baseURL, corruptPrefix, placeholder string) (*Resolver, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if !hasHTTPScheme(base.String()) || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be an absolute http(s) origin", baseURL)
	}

	if corruptPrefix == "" {
		corruptPrefix = "http://" + base.Host
	}
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}

	return &Resolver{
		base:          base,
		corruptPrefix: corruptPrefix,
		placeholder:   placeholder,
	}, nil
}

func (r *Resolver) Placeholder() string {
	return r.placeholder
}

func (r *Resolver) Base() string {
	return r.base.String()
}

// Resolve never fails: unusable references map to the placeholder.
func (r *Resolver) Resolve(raw string) string {
	resolved, _ := r.ResolveChecked(raw)
	return resolved
}

// ResolveChecked is Resolve but also reports references that had to be replaced by the
// placeholder because they could not be parsed.
func (r *Resolver) ResolveChecked(raw string) (string, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return r.placeholder, nil
	}

	if rest, ok := strings.CutPrefix(ref, r.corruptPrefix); ok && hasHTTPScheme(rest) {
		ref = rest
	}

	if hasHTTPScheme(ref) {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return r.placeholder, fmt.Errorf("%w %q: %v", ErrUnresolvableImage, raw, err)
	}
	return r.base.ResolveReference(u).String(), nil
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
