package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ClareAI/astra-phone-agent/internal/core/event"
	"github.com/ClareAI/astra-phone-agent/pkg/logger"
	"go.uber.org/zap"
)

// Shutdowner is the part of *http.Server the controller drives
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// ShutdownError wraps a failure while stopping the server
type ShutdownError struct {
	Reason string
	Err    error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown (%s) failed: %v", e.Reason, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// Controller stops the process once, after the last voice response had time to flush
type Controller struct {
	server     Shutdowner
	flushDelay time.Duration
	timeout    time.Duration

	once   sync.Once
	done   chan struct{}
	mutex  sync.Mutex
	hooks  []func(ctx context.Context)
	reason string
	err    error
}

// NewController creates a shutdown controller. flushDelay is waited before the server
// stops accepting requests; timeout bounds the drain of in-flight requests.
func NewController(server Shutdowner, flushDelay, timeout time.Duration) *Controller {
	return &Controller{
		server:     server,
		flushDelay: flushDelay,
		timeout:    timeout,
		done:       make(chan struct{}),
	}
}

// OnShutdown registers fn to run after the server has stopped. Hooks run in registration order.
func (c *Controller) OnShutdown(fn func(ctx context.Context)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Trigger starts the shutdown sequence in the background. Only the first call has any effect.
func (c *Controller) Trigger(reason string) {
	c.once.Do(func() {
		c.mutex.Lock()
		c.reason = reason
		c.mutex.Unlock()

		logger.Base().Info("Shutdown requested", zap.String("reason", reason))
		go c.run(reason)
	})
}

// Shutdown triggers the sequence and waits for it or for ctx
func (c *Controller) Shutdown(ctx context.Context, reason string) error {
	c.Trigger(reason)
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the shutdown sequence has finished
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown failure, if any, once Done is closed
func (c *Controller) Err() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.err
}

// Reason returns what triggered the shutdown
func (c *Controller) Reason() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.reason
}

// HandleGoodbye is an event handler that shuts the process down when a caller says goodbye
func (c *Controller) HandleGoodbye(e *event.CallEvent) {
	c.Trigger("goodbye on call " + e.CallSID)
}

func (c *Controller) run(reason string) {
	defer close(c.done)

	if c.flushDelay > 0 {
		time.Sleep(c.flushDelay)
	}

	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownErr := &ShutdownError{Reason: reason, Err: err}
			logger.Base().Error("Server shutdown failed", zap.Error(shutdownErr))
			c.mutex.Lock()
			c.err = shutdownErr
			c.mutex.Unlock()
		}
	}

	c.mutex.Lock()
	hooks := make([]func(context.Context), len(c.hooks))
	copy(hooks, c.hooks)
	c.mutex.Unlock()
	for _, hook := range hooks {
		hook(ctx)
	}

	logger.Base().Info("Shutdown complete", zap.String("reason", reason), zap.Duration("duration", time.Since(start)))
}
