package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pilacorp/go-identity-sdk/common/domainerrors"
	"github.com/pilacorp/go-identity-sdk/ledger"
)

const defaultInitialInterval = 250 * time.Millisecond

type retryPolicy struct {
	initial    time.Duration
	maxElapsed time.Duration
	logger     *slog.Logger
}

func (p retryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.maxElapsed <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.MaxElapsedTime = p.maxElapsed
	return backoff.WithContext(b, ctx)
}

// retry runs op until it succeeds or the retry budget is spent. Only
// transport failures are retried. A missing document or block, a ledger
// rejection and a write that already reached the ledger are final.
func retry[T any](ctx context.Context, p retryPolicy, name string, op func() (T, error)) (T, error) {
	attempt := 0
	res, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		res, err := op()
		if err != nil && final(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, p.backOff(ctx), func(err error, next time.Duration) {
		if p.logger != nil {
			p.logger.WarnContext(ctx, "retrying ledger call",
				slog.String("op", name),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", next),
				slog.Any("error", err),
			)
		}
	})
	if err != nil {
		var derr *domainerrors.Error
		if !errors.As(err, &derr) {
			return res, ledger.TransportError(err, name+" aborted")
		}
		return res, err
	}
	return res, nil
}

func final(err error) bool {
	if !domainerrors.Retryable(err) || errors.Is(err, ledger.ErrSubmitted) {
		return true
	}
	code := domainerrors.CodeOf(err)
	return code == domainerrors.CodeNotFound || code == domainerrors.CodeLedgerRejected
}
