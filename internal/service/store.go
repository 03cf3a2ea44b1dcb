package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	apperrors "github.com/openclaw/link-server-go/internal/errors"
	"github.com/openclaw/link-server-go/internal/repository"
)

const readRetryDelay = 50 * time.Millisecond

// storeRunner bounds every store call by a timeout and turns driver errors
// into STORAGE_FAILURE. Errors that are already *AppError pass through.
type storeRunner struct {
	store   repository.Store
	timeout time.Duration
}

func newStoreRunner(store repository.Store, timeout time.Duration) storeRunner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return storeRunner{store: store, timeout: timeout}
}

// read runs an idempotent query, retrying once on failure.
func (r storeRunner) read(ctx context.Context, op string, fn func(ctx context.Context, s repository.Store) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(readRetryDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		if err := fn(callCtx, r.store); err != nil {
			if apperrors.IsAppError(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	return classify(op, err)
}

// write runs a single mutation. Writes are never retried.
func (r storeRunner) write(ctx context.Context, op string, fn func(ctx context.Context, s repository.Store) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return classify(op, fn(callCtx, r.store))
}

// tx runs fn inside one store transaction.
func (r storeRunner) tx(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Store) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.store.WithTx(callCtx, func(tx repository.Store) error {
		return fn(callCtx, tx)
	})
	return classify(op, err)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Storage(fmt.Errorf("%s: %w", op, err)).WithDetails(map[string]any{"timeout": true})
	}
	return apperrors.Storage(fmt.Errorf("%s: %w", op, err))
}
