package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Strategy is one way of getting local changes to the remote. Strategies
// are tried coarsest-last.
type Strategy struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Escalate runs strategies in order until one succeeds, each under its own
// timeout. It returns the name of the strategy that succeeded, or every
// failure joined.
func Escalate(ctx context.Context, log zerolog.Logger, strategies []Strategy) (string, error) {
	var errs []error
	for _, st := range strategies {
		runCtx := ctx
		cancel := func() {}
		if st.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, st.Timeout)
		}
		err := st.Run(runCtx)
		cancel()
		if err == nil {
			return st.Name, nil
		}

		log.Warn().Err(err).Str("strategy", st.Name).Msg("sync strategy failed, escalating")
		errs = append(errs, fmt.Errorf("%s: %w", st.Name, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", errors.New("no sync strategy available")
	}
	return "", errors.Join(errs...)
}
