// Package discovery finds nearby Bluetooth devices.
//
// Two backends exist: "hci" runs a raw inquiry through the kernel HCI
// socket (the default, no daemon required) and "bluez" drives discovery
// over the BlueZ D-Bus API. Both report bterr.NoRadio when no adapter is
// usable, so callers can hide the feature instead of showing an error.
package discovery

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bluebridge/internal/btaddr"
	"bluebridge/internal/hci"
)

const (
	BackendHCI   = "hci"
	BackendBlueZ = "bluez"
)

const (
	// DefaultInquiryLength is in units of 1.28s.
	DefaultInquiryLength uint8 = 3
	DefaultMaxResponses        = 256
)

// Discoverer reports whether a radio is present and scans for devices.
type Discoverer interface {
	// Available reports whether a local radio can be used right now.
	// Absence is a normal false result, never an error.
	Available(ctx context.Context) bool

	// Scan runs one inquiry and returns the responders in the order the
	// radio reported them. Duplicates are passed through.
	Scan(ctx context.Context) ([]btaddr.Address, error)
}

// Config selects and tunes a backend.
type Config struct {
	Backend string `mapstructure:"backend"`
	// Device is the adapter index (hciN); -1 resolves the default route.
	Device        int   `mapstructure:"device"`
	InquiryLength uint8 `mapstructure:"inquiry_length"`
	MaxResponses  int   `mapstructure:"max_responses"`
	FlushCache    bool  `mapstructure:"flush_cache"`
}

// DefaultConfig mirrors the classic 3 unit, 256 response inquiry.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendHCI,
		Device:        -1,
		InquiryLength: DefaultInquiryLength,
		MaxResponses:  DefaultMaxResponses,
		FlushCache:    true,
	}
}

func (c Config) params() hci.InquiryParams {
	return hci.InquiryParams{
		Length:       c.InquiryLength,
		MaxResponses: c.MaxResponses,
		FlushCache:   c.FlushCache,
	}
}

// window is the time an inquiry with c is expected to take.
func (c Config) window() time.Duration { return c.params().Window() }

// New returns the backend named by cfg.Backend.
func New(cfg Config, log *logrus.Entry) (Discoverer, error) {
	if cfg.InquiryLength == 0 {
		cfg.InquiryLength = DefaultInquiryLength
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendHCI:
		return NewHCI(cfg, log), nil
	case BackendBlueZ:
		return NewBlueZ(cfg, log), nil
	default:
		return nil, fmt.Errorf("discovery: unknown backend %q", cfg.Backend)
	}
}

func componentLogger(log *logrus.Entry, backend string) *logrus.Entry {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return log.WithFields(logrus.Fields{"component": "discovery", "backend": backend})
}
