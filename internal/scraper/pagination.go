package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/catalog-scraper/internal/ratelimit"
)

type OutcomeKind string

const (
	OutcomeAdvanced       OutcomeKind = "advanced"
	OutcomeExhausted      OutcomeKind = "exhausted"
	OutcomeStalledRetried OutcomeKind = "stalled_retried"
	OutcomeStalledGivenUp OutcomeKind = "stalled_given_up"
)

// Outcome is the result of one pagination step. Page is set for
// OutcomeAdvanced; Err is set for the stalled outcomes.
type Outcome struct {
	Kind OutcomeKind
	Page int
	Err  error
}

// Paginator decides from the next control whether another page exists and
// advances to it.
type Paginator struct {
	control      PageControl
	confirmDelay time.Duration
	stallCeiling int
	limiter      ratelimit.RateLimiter
	metrics      *Metrics
	logger       *slog.Logger
}

func NewPaginator(control PageControl, opts *Options, limiter ratelimit.RateLimiter, metrics *Metrics, logger *slog.Logger) *Paginator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{
		control:      control,
		confirmDelay: opts.DisabledConfirmDelay,
		stallCeiling: opts.StallRetryCeiling,
		limiter:      limiter,
		metrics:      metrics,
		logger:       logger.With("component", "paginator"),
	}
}

// EvaluateAndAdvance inspects the next control on the current page.
//
// A control that reports disabled is checked a second time after
// confirmDelay, since the widget can render disabled for a moment while the
// page data is still loading. Only a confirmed disabled control, or a
// missing one, exhausts the catalog.
func (p *Paginator) EvaluateAndAdvance(ctx context.Context, state *CrawlState) Outcome {
	visible, err := p.control.NextVisible(ctx)
	if err != nil {
		return p.stall(ctx, state, fmt.Errorf("%w: locate next control: %w", ErrNavigation, err))
	}
	if !visible {
		p.logger.Info("no next control found", "page", state.PageNumber)
		return Outcome{Kind: OutcomeExhausted}
	}

	disabled, err := p.control.NextDisabled(ctx)
	if err != nil {
		return p.stall(ctx, state, fmt.Errorf("%w: read next control state: %w", ErrNavigation, err))
	}
	if disabled {
		p.logger.Debug("next control disabled, confirming", "page", state.PageNumber, "delay", p.confirmDelay)
		if err := sleep(ctx, p.confirmDelay); err != nil {
			return Outcome{Kind: OutcomeStalledGivenUp, Err: err}
		}

		disabled, err = p.control.NextDisabled(ctx)
		if err != nil {
			return p.stall(ctx, state, fmt.Errorf("%w: read next control state: %w", ErrNavigation, err))
		}
		if disabled {
			p.logger.Info("next control is disabled", "page", state.PageNumber)
			return Outcome{Kind: OutcomeExhausted}
		}
		p.logger.Info("next control re-enabled after confirm delay", "page", state.PageNumber)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return Outcome{Kind: OutcomeStalledGivenUp, Err: err}
		}
	}

	if err := p.control.ActivateNext(ctx); err != nil {
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeStalledGivenUp, Err: ctx.Err()}
		}
		return p.stall(ctx, state, fmt.Errorf("%w: activate next control on page %d: %w", ErrNavigation, state.PageNumber, err))
	}

	state.ConsecutiveStallCount = 0
	if fb, ok := p.limiter.(ratelimit.Feedback); ok {
		fb.RecordSuccess()
	}

	return Outcome{Kind: OutcomeAdvanced, Page: state.PageNumber + 1}
}

func (p *Paginator) stall(ctx context.Context, state *CrawlState, err error) Outcome {
	state.ConsecutiveStallCount++
	p.metrics.IncStall()
	if fb, ok := p.limiter.(ratelimit.Feedback); ok {
		fb.RecordError()
	}

	if ctx.Err() != nil {
		return Outcome{Kind: OutcomeStalledGivenUp, Err: ctx.Err()}
	}

	if state.ConsecutiveStallCount <= p.stallCeiling {
		p.logger.Warn("pagination stalled, retrying page",
			"page", state.PageNumber,
			"stalls", state.ConsecutiveStallCount,
			"ceiling", p.stallCeiling,
			"error", err)
		return Outcome{Kind: OutcomeStalledRetried, Err: err}
	}

	p.logger.Error("pagination stalled, giving up",
		"page", state.PageNumber,
		"stalls", state.ConsecutiveStallCount,
		"error", err)
	return Outcome{Kind: OutcomeStalledGivenUp, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
