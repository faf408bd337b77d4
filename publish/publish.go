// Package publish delivers scheduled content to the CMS.
//
// Failures carry a Kind that drives the executor's retry policy: transient
// and timeout failures are retried against the entry's attempt budget,
// auth and validation failures fail the entry immediately.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/hokuto/pressbeat/errors"
)

// Kind classifies a publish failure
type Kind int

const (
	// KindTransient covers network hiccups and server-side errors worth retrying
	KindTransient Kind = iota
	// KindTimeout means the publish deadline elapsed
	KindTimeout
	// KindAuth means the CMS rejected our credentials
	KindAuth
	// KindValidation means the CMS rejected the content itself
	KindValidation
)

// String returns the kind name for logs
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified publish failure
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("publish %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("publish %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified publish error
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Classify extracts the failure kind. Unclassified errors default to
// transient so an unknown failure gets retried rather than burning the entry.
func Classify(err error) Kind {
	var pubErr *Error
	if errors.As(err, &pubErr) {
		return pubErr.Kind
	}
	return KindTransient
}

// Retryable reports whether the failure should be retried
func Retryable(err error) bool {
	kind := Classify(err)
	return kind == KindTransient || kind == KindTimeout
}

// Request carries one piece of content to publish
type Request struct {
	ContentKey  string
	Payload     string    // JSON document in the CMS's post format
	ScheduledAt time.Time // the slot being published, for audit logging
}

// Result reports a successful publish
type Result struct {
	ExternalPostID string
}

// Publisher delivers content to the CMS
type Publisher interface {
	// Publish posts the content. The context deadline is the publish timeout.
	Publish(ctx context.Context, req *Request) (*Result, error)

	// Ping verifies the CMS is reachable with the configured credentials
	Ping(ctx context.Context) error
}
