package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
)

// Kind classifies an invocation failure for the caller's retry decision.
// This package never retries on its own.
type Kind int

const (
	// KindTransient covers timeouts, rate limits, and 5xx-equivalents;
	// worth retrying.
	KindTransient Kind = iota
	// KindFatal covers auth failures and invalid payloads; retrying the
	// same request cannot succeed.
	KindFatal
	// KindEmptyResult means the call succeeded but returned nothing usable;
	// callers fall back to a generic prompt.
	KindEmptyResult
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindEmptyResult:
		return "empty_result"
	}
	return "unknown"
}

// Error tags an invocation failure with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err, defaulting to transient for
// unrecognized failures so the caller errs on the side of retrying.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindTransient
}

// Classify wraps a raw API error with its Kind.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return err
	}
	return &Error{Kind: classifyKind(err), Err: err}
}

func classifyKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return KindTransient
		case apiErr.StatusCode >= 500:
			return KindTransient
		case apiErr.StatusCode == http.StatusUnauthorized,
			apiErr.StatusCode == http.StatusForbidden:
			return KindFatal
		case apiErr.StatusCode >= 400:
			return KindFatal
		}
	}

	// Network-level failures surface as plain errors; treat them as
	// recoverable unless they look like configuration problems.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") {
		return KindFatal
	}
	return KindTransient
}

// NonEmpty enforces the empty-result contract: a successful call with
// blank output becomes a KindEmptyResult error.
func NonEmpty(out string) (string, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &Error{Kind: KindEmptyResult, Err: errors.New("model returned empty output")}
	}
	return out, nil
}
