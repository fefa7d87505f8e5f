// Package errinfo holds the typed errors every workflow component returns.
//
// Errors fall in three groups. Admission errors are detected locally before
// any network call and never consume quota. Remote errors come back from the
// generation service and leave the pipeline where it was. Malformed responses
// abort the transition without touching state.
package errinfo

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindQuotaExhausted    Kind = "quota_exhausted"
	KindMissingConfig     Kind = "missing_config"
	KindPayloadTooLarge   Kind = "payload_too_large"
	KindUnsupportedSource Kind = "unsupported_source"
	KindNotReady          Kind = "not_ready"
	KindBusy              Kind = "busy"
	KindInvalidStage      Kind = "invalid_stage"

	KindForbidden   Kind = "forbidden"
	KindRateLimited Kind = "rate_limited"
	KindUnavailable Kind = "unavailable"

	KindMalformed Kind = "malformed"
	KindAbandoned Kind = "abandoned"
)

// Admission reports whether k is rejected before any network call.
func (k Kind) Admission() bool {
	switch k {
	case KindQuotaExhausted, KindMissingConfig, KindPayloadTooLarge,
		KindUnsupportedSource, KindNotReady, KindBusy, KindInvalidStage:
		return true
	}
	return false
}

// Remote reports whether k came back from the generation service.
func (k Kind) Remote() bool {
	switch k {
	case KindForbidden, KindRateLimited, KindUnavailable:
		return true
	}
	return false
}

type Error struct {
	Kind   Kind
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so sentinels such as ErrBusy work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Status == 0 && t.Detail == "" && t.Err == nil
}

var (
	ErrQuotaExhausted    = &Error{Kind: KindQuotaExhausted}
	ErrMissingConfig     = &Error{Kind: KindMissingConfig}
	ErrPayloadTooLarge   = &Error{Kind: KindPayloadTooLarge}
	ErrUnsupportedSource = &Error{Kind: KindUnsupportedSource}
	ErrNotReady          = &Error{Kind: KindNotReady}
	ErrBusy              = &Error{Kind: KindBusy}
	ErrInvalidStage      = &Error{Kind: KindInvalidStage}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
	ErrMalformed         = &Error{Kind: KindMalformed}
	ErrAbandoned         = &Error{Kind: KindAbandoned}
)

func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Remote(kind Kind, op string, status int, detail string) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Detail: detail}
}

// KindOf returns the kind of err, or KindUnavailable for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnavailable
}

// Retryable reports whether repeating the same operation may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindUnavailable, KindBusy, KindMalformed:
		return true
	}
	return false
}

// Message returns the text shown to the user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindQuotaExhausted:
		return "Today's free quota is used up. Sign in for a higher limit or try again tomorrow."
	case KindMissingConfig:
		return "Please fill in the API endpoint, key and model settings first."
	case KindPayloadTooLarge:
		return "The source is too large to upload."
	case KindUnsupportedSource:
		return "This file type is not supported for the selected workflow."
	case KindNotReady:
		return "Some slides have not been generated yet."
	case KindBusy:
		return "A request is already running, please wait for it to finish."
	case KindInvalidStage:
		return "That action is not available at this step."
	case KindForbidden:
		return "The access key or invite code was rejected."
	case KindRateLimited:
		return "Too many requests right now, please slow down and retry."
	case KindMalformed:
		return "The generation service returned an unexpected response."
	case KindAbandoned:
		return "The request was cancelled."
	default:
		return "The service is busy, please retry later."
	}
}
