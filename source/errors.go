package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/pevans/newsagg/article"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNetwork  = errors.New("network error")
	ErrParse    = errors.New("parse error")
	ErrAuth     = errors.New("authentication error")
	ErrContract = errors.New("contract violation")

	// ErrSessionExpired means the site rejected the credentials of an
	// established session. It is an ErrAuth.
	ErrSessionExpired = fmt.Errorf("%w: session expired", ErrAuth)
)

// Error is a source-level failure. It unwraps to both its kind and its
// cause.
type Error struct {
	Source string
	URL    string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Kind != nil && !errors.Is(e.Err, e.Kind) {
		msg = e.Kind.Error() + ": " + msg
	}
	if e.URL != "" {
		return fmt.Sprintf("%s (%s): %s", e.Source, e.URL, msg)
	}
	return e.Source + ": " + msg
}

func (e *Error) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// ItemError records one entry that could not become an article. The rest of
// the batch is unaffected.
type ItemError struct {
	URL     string `json:"url,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e ItemError) Error() string {
	if e.URL == "" {
		return e.Kind + ": " + e.Message
	}
	return e.URL + ": " + e.Kind + ": " + e.Message
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// Batch is the outcome of one successful fetch.
type Batch struct {
	Articles []article.Article
	Skipped  []ItemError
}

// KindOf returns the kind sentinel err matches, or nil.
func KindOf(err error) error {
	switch {
	case errors.Is(err, ErrAuth):
		return ErrAuth
	case errors.Is(err, ErrContract), errors.Is(err, article.ErrInvalid):
		return ErrContract
	case errors.Is(err, ErrParse):
		return ErrParse
	case errors.Is(err, ErrNetwork):
		return ErrNetwork
	default:
		return nil
	}
}

// KindName names the failure kind of err for reports: network, parse, auth,
// contract, timeout, canceled or internal.
func KindName(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	switch KindOf(err) {
	case ErrAuth:
		return "auth"
	case ErrContract:
		return "contract"
	case ErrParse:
		return "parse"
	case ErrNetwork:
		return "network"
	default:
		return "internal"
	}
}

func itemError(rawURL string, err error) ItemError {
	return ItemError{URL: rawURL, Kind: KindName(err), Message: err.Error(), Err: err}
}

func contractError(err error) error {
	if errors.Is(err, ErrContract) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrContract, err)
}

// isFatal reports whether err must abort the whole fetch rather than skip
// one entry.
func isFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, ErrAuth)
}
