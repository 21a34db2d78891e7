package chatpdt

// Functional options applied by New before any backend is opened.

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
	"github.com/Copilotuser-cyber/ChatPDT/internal/stream"
)

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithLogger replaces the logger built from the configured level.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = l
		c.logSet = true
		return nil
	}
}

// WithEngine sets the completion engine. Without it a Gemini engine is
// created when an API key is configured.
func WithEngine(e stream.Engine) Option {
	return func(c *Client) error {
		if e == nil {
			return errors.New("engine must not be nil")
		}
		c.engine = e
		return nil
	}
}

// WithLocalBackend uses b as the local cache instead of opening the
// configured driver. The client closes it.
func WithLocalBackend(b store.Backend) Option {
	return func(c *Client) error {
		if b == nil {
			return errors.New("local backend must not be nil")
		}
		c.local = b
		return nil
	}
}

// WithCloudBackend uses b as the cloud store instead of connecting the
// configured driver. A nil b starts the client in local-only mode.
func WithCloudBackend(b store.Backend) Option {
	return func(c *Client) error {
		c.cloud = b
		c.cloudSet = true
		return nil
	}
}
