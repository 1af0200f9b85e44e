// Package artifact generates the per-slide QR code images that link back to each article.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/johnrirwin/newspanel/internal/logging"
	"github.com/johnrirwin/newspanel/internal/metrics"
)

const (
	DefaultDir   = "qrcodes"
	DefaultSlots = 5

	// Negative sizes make go-qrcode scale by module: 10px per module.
	modulePixels = -10
)

var (
	ErrInvalidPosition = errors.New("artifact position out of range")
	ErrEmptyTarget     = errors.New("artifact target is empty")
)

// QRGenerator writes one QR image per slide position. Files are named by position only, so
// every refresh overwrites the same DefaultSlots files.
type QRGenerator struct {
	dir    string
	slots  int
	logger *logging.Logger
	mu     sync.Mutex
}

func NewQRGenerator(dir string, slots int, logger *logging.Logger) *QRGenerator {
	if dir == "" {
		dir = DefaultDir
	}
	if slots <= 0 {
		slots = DefaultSlots
	}
	return &QRGenerator{
		dir:    dir,
		slots:  slots,
		logger: logger,
	}
}

func (g *QRGenerator) Dir() string {
	return g.dir
}

// Path returns the file used for position.
func (g *QRGenerator) Path(position int) string {
	return filepath.Join(g.dir, fmt.Sprintf("qr_%d.png", position))
}

// Generate encodes target for slide position and returns the file path, or "" when the
// code could not be produced. Failures are logged and never returned.
func (g *QRGenerator) Generate(target string, position int) string {
	path, err := g.Write(target, position)
	if err != nil {
		g.logger.Error("Failed to generate QR code", logging.WithFields(map[string]interface{}{
			"position": position,
			"target":   target,
			"error":    err.Error(),
		}))
		metrics.RecordFailure(metrics.KindArtifact)
		return ""
	}
	return path
}

// Write is Generate with the error exposed.
func (g *QRGenerator) Write(target string, position int) (string, error) {
	if position < 0 || position >= g.slots {
		return "", fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidPosition, position, g.slots)
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrEmptyTarget
	}

	code, err := qrcode.New(target, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	png, err := code.PNG(modulePixels)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	// Write then rename so a renderer never loads a half-written image.
	tmp, err := os.CreateTemp(g.dir, "qr_*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(png); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write qr code: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close qr code: %w", err)
	}

	path := g.Path(position)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("move qr code into place: %w", err)
	}
	return path, nil
}
