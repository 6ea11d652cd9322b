// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridgeerr classifies failures at adapter and child-process call
// sites into the kinds described by the error-handling design: transient,
// rate-limited, recoverable, session-fatal, system-fatal, or a user-input
// validation problem. These are classification helpers, not a typed error
// hierarchy baked into every signature.
package bridgeerr

import "fmt"

// Kind is one of the error taxonomy buckets.
type Kind int

const (
	// KindTransient is a network/API blip the adapter layer already retries;
	// the core should not surface it.
	KindTransient Kind = iota
	// KindRateLimited means the adapter observed a rate-limit signal; the
	// core should back off before its next call on that adapter.
	KindRateLimited
	// KindRecoverable is logged and surfaced to the user; the session
	// continues.
	KindRecoverable
	// KindSessionFatal ends the session (child terminated, posted a final
	// error) but retains persistence so the user can resume.
	KindSessionFatal
	// KindSystemFatal triggers an orderly shutdown.
	KindSystemFatal
	// KindValidation is a user-input problem; the session is left exactly
	// where it was.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate-limited"
	case KindRecoverable:
		return "recoverable"
	case KindSessionFatal:
		return "session-fatal"
	case KindSystemFatal:
		return "system-fatal"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Classified wraps an error with its taxonomy kind.
type Classified struct {
	Kind Kind
	Err  error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Kind, c.Err)
}

func (c *Classified) Unwrap() error { return c.Err }

// Wrap classifies err under kind. A nil err yields an untyped nil error
// (not a typed nil *Classified) so callers can `return bridgeerr.Wrap(...)` freely.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindRecoverable for
// errors that were never classified (an external-boundary failure that
// wasn't captured at the call site is still treated conservatively).
func KindOf(err error) Kind {
	if err == nil {
		return KindRecoverable
	}
	var c *Classified
	if asClassified(err, &c) {
		return c.Kind
	}
	return KindRecoverable
}

func asClassified(err error, target **Classified) bool {
	for err != nil {
		if c, ok := err.(*Classified); ok {
			*target = c
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ClassifyChildExit decides whether a non-zero child exit is expected
// (the core requested the kill) or session-fatal (it was not).
func ClassifyChildExit(code int, coreInitiated bool) Kind {
	if code == 0 {
		return KindRecoverable
	}
	if coreInitiated {
		return KindRecoverable
	}
	return KindSessionFatal
}
