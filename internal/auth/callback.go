package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// CallbackResult is what the provider redirect delivered: either a code bound
// to a state, or a provider error.
type CallbackResult struct {
	State string
	Code  string
	Err   error
}

// CallbackListener is a one-shot local HTTP endpoint that receives the
// authorization redirect. It processes exactly one callback; later hits get
// a 410 so a replayed redirect cannot race the exchange.
type CallbackListener struct {
	app     *fiber.App
	addr    string
	logger  zerolog.Logger
	results chan CallbackResult
	once    sync.Once
}

// NewCallbackListener builds a listener serving path on addr
// (e.g. "127.0.0.1:8898", "/callback").
func NewCallbackListener(addr, path string, logger zerolog.Logger) *CallbackListener {
	l := &CallbackListener{
		addr:    addr,
		logger:  logger.With().Str("component", "callback").Logger(),
		results: make(chan CallbackResult, 1),
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Get(path, l.handle)
	l.app = app
	return l
}

func (l *CallbackListener) handle(c *fiber.Ctx) error {
	result := CallbackResult{
		State: c.Query("state"),
		Code:  c.Query("code"),
	}
	if errParam := c.Query("error"); errParam != "" {
		result.Err = fmt.Errorf("provider denied authorization: %s", errParam)
	} else if result.Code == "" {
		result.Err = fmt.Errorf("callback missing authorization code")
	}

	delivered := false
	l.once.Do(func() {
		l.results <- result
		delivered = true
	})
	if !delivered {
		return c.Status(fiber.StatusGone).SendString("authorization already completed")
	}
	if result.Err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("authorization failed, you can close this window")
	}
	return c.SendString("authorization received, you can close this window")
}

// Start begins serving in the background. The returned error channel reports
// a listen failure.
func (l *CallbackListener) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := l.app.Listen(l.addr); err != nil {
			errCh <- fmt.Errorf("callback listener: %w", err)
		}
	}()
	l.logger.Debug().Str("addr", l.addr).Msg("callback listener started")
	return errCh
}

// Wait blocks until the redirect arrives or ctx is done.
func (l *CallbackListener) Wait(ctx context.Context) (CallbackResult, error) {
	select {
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	case result := <-l.results:
		if result.Err != nil {
			return CallbackResult{}, result.Err
		}
		return result, nil
	}
}

// Close shuts the listener down.
func (l *CallbackListener) Close() error {
	return l.app.ShutdownWithTimeout(2 * time.Second)
}
