package recognizer

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"ilvlbot/internal/domain"
)

// Chain asks each recognizer in turn and returns the first result whose top
// intent is not None. Errors are logged and the next recognizer is tried.
type Chain struct {
	recognizers []domain.Recognizer
	logger      *slog.Logger
}

func NewChain(logger *slog.Logger, recognizers ...domain.Recognizer) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{recognizers: recognizers, logger: logger}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.recognizers))
	for i, r := range c.recognizers {
		names[i] = r.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

func (c *Chain) Recognize(ctx context.Context, utterance string) (domain.Recognition, error) {
	var (
		last domain.Recognition
		errs []error
		ok   bool
	)
	for _, r := range c.recognizers {
		rec, err := r.Recognize(ctx, utterance)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Recognition{}, ctx.Err()
			}
			c.logger.Warn("recognizer failed, trying next", "recognizer", r.Name(), "err", err)
			errs = append(errs, err)
			continue
		}
		if top := rec.TopIntent(); top.Name != domain.IntentNone && top.Score > 0 {
			return rec, nil
		}
		last, ok = rec, true
	}
	if ok {
		return last, nil
	}
	if len(errs) > 0 {
		return domain.Recognition{}, errors.Join(errs...)
	}
	return domain.Recognition{Query: utterance}, nil
}
