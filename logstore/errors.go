// Package logstore implements the log blob storage + query
// collaborator (spec.md §4.11): a per-source metadata database
// backed by a ring of compressed blob files, plus range/keyword
// queries and a compound multi-source query path.
package logstore

import "errors"

// Kind is the log-query error taxonomy of spec.md §6.
type Kind int

const (
	KindOK Kind = iota
	KindGeneric
	KindInvalidRequest
	KindNoMatchingSource
	KindNoResults
	KindTimeout
	KindCancelled
	KindUnmodified
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindGeneric:
		return "GENERIC"
	case KindInvalidRequest:
		return "INVALID_REQUEST"
	case KindNoMatchingSource:
		return "NO_MATCHING_SOURCE"
	case KindNoResults:
		return "NO_RESULTS"
	case KindTimeout:
		return "TIMEOUT"
	case KindCancelled:
		return "CANCELLED"
	case KindUnmodified:
		return "UNMODIFIED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrGeneric          = errors.New("logstore: generic failure")
	ErrInvalidRequest   = errors.New("logstore: invalid request")
	ErrNoMatchingSource = errors.New("logstore: no matching chart or filename")
	ErrNoResults        = errors.New("logstore: no results found")
	ErrTimeout          = errors.New("logstore: query deadline exceeded")
	ErrCancelled        = errors.New("logstore: query cancelled")
	ErrUnmodified       = errors.New("logstore: source unmodified since request")
)

// KindOf maps a sentinel error to its taxonomy Kind: nil maps to
// KindOK, and any error it doesn't recognize maps to KindGeneric.
func KindOf(err error) Kind {
	switch err {
	case nil:
		return KindOK
	case ErrInvalidRequest:
		return KindInvalidRequest
	case ErrNoMatchingSource:
		return KindNoMatchingSource
	case ErrNoResults:
		return KindNoResults
	case ErrTimeout:
		return KindTimeout
	case ErrCancelled:
		return KindCancelled
	case ErrUnmodified:
		return KindUnmodified
	default:
		return KindGeneric
	}
}
