package collab

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind classifies a collaborator failure.
type Kind string

const (
	// KindTransient covers timeouts, rate limits and 5xx responses. Retried.
	KindTransient Kind = "transient"
	// KindInvalid is a response that did not parse or match its schema. Retried.
	KindInvalid Kind = "invalid"
	// KindPermanent covers bad credentials, blocked prompts and cancellation. Not retried.
	KindPermanent Kind = "permanent"
)

// Failure is the typed failure reason of a collaborator call.
type Failure struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s (%s): %v", f.Op, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Transient wraps err as a retryable failure.
func Transient(op string, err error) *Failure {
	return &Failure{Kind: KindTransient, Op: op, Err: err}
}

// Invalid wraps err as a malformed-response failure.
func Invalid(op string, err error) *Failure {
	return &Failure{Kind: KindInvalid, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(op string, err error) *Failure {
	return &Failure{Kind: KindPermanent, Op: op, Err: err}
}

// KindOf reports the failure kind of err. Context errors are permanent; untyped
// errors are treated as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return KindPermanent
	}
	var f *Failure
	if stderrors.As(err, &f) {
		return f.Kind
	}
	return KindTransient
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindInvalid
}
