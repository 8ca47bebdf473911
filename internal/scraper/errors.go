package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidURL    = errors.New("invalid catalog URL")
	ErrExtraction    = errors.New("extraction failure")
	ErrSettleTimeout = errors.New("settle timeout")
	ErrNavigation    = errors.New("navigation failure")
	ErrDriver        = errors.New("driver failure")
)

// KindCancelled is the error kind of a run stopped by its context.
const KindCancelled = "cancelled"

// ErrorKind maps an error onto the label used in metrics and run outcomes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, ErrNavigation):
		return "navigation"
	case errors.Is(err, ErrSettleTimeout):
		return "settle_timeout"
	case errors.Is(err, ErrDriver):
		return "driver"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	default:
		return "other"
	}
}

// asDriverError classifies an unexpected driver error unless it already
// carries a kind.
func asDriverError(op string, err error) error {
	if ErrorKind(err) != "other" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDriver, op, err)
}

// ValidateStartURL checks that raw is an absolute http(s) URL.
func ValidateStartURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: start URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q must be an absolute http(s) URL", ErrInvalidURL, raw)
	}
	return nil
}
