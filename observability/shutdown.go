package observability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultShutdownTimeout bounds Shutdown when no timeout is given.
const DefaultShutdownTimeout = 10 * time.Second

// Shutdown flushes provider and shuts it down within timeout. A nil provider
// is ignored. Both steps run even when the flush fails.
func Shutdown(provider Provider, timeout time.Duration) error {
	if provider == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
	if err != nil {
		return fmt.Errorf("observability shutdown failed: %w", err)
	}
	return nil
}

// MustShutdown is like Shutdown but panics on error.
func MustShutdown(provider Provider, timeout time.Duration) {
	if err := Shutdown(provider, timeout); err != nil {
		panic(err)
	}
}
