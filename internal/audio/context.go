//go:build cgo

package audio

import (
	"log/slog"

	"github.com/gen2brain/malgo"
)

// Context owns one malgo.AllocatedContext for the playback backend. The
// backend creates it once and reuses it across Play calls; devices are
// per-stream, the context is not.
type Context struct {
	ctx *malgo.AllocatedContext
}

// NewContext initializes the audio system, routing malgo's internal
// messages to the debug log.
func NewContext() (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo internal", "message", message)
	})
	if err != nil {
		slog.Error("failed to initialize audio context", "error", err)
		return nil, err
	}

	slog.Debug("audio context initialized")
	return &Context{ctx: ctx}, nil
}

// Close releases the audio system. Idempotent.
func (c *Context) Close() error {
	if c.ctx == nil {
		return nil
	}

	// malgo requires both Uninit() and Free()
	if err := c.ctx.Uninit(); err != nil {
		slog.Error("failed to uninitialize audio context", "error", err)
		return err
	}

	c.ctx.Free()
	c.ctx = nil

	slog.Debug("audio context closed")
	return nil
}

// GetContext returns the underlying malgo context for device construction.
func (c *Context) GetContext() *malgo.AllocatedContext {
	return c.ctx
}

// IsValid reports whether the context is still open.
func (c *Context) IsValid() bool {
	return c.ctx != nil
}
