// Package feederr defines the failure taxonomy of a feed ingestion run.
//
// Every error produced by the pipeline matches exactly one of the sentinel
// kinds below through errors.Is, and the concrete types carry the context
// (resource, line, external id, stage) needed to locate the offending record.
package feederr

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrArchiveCorrupt          = errors.New("archive corrupt")
	ErrResourceUnreadable      = errors.New("resource unreadable")
	ErrMissingRequiredResource = errors.New("missing required resource")
	ErrMalformedField          = errors.New("malformed field")
	ErrDanglingReference       = errors.New("dangling reference")
	// ErrOwnerAmbiguous marks a feed whose schedules could belong to more
	// than one agency (or to none) and no owner agency was named.
	ErrOwnerAmbiguous = errors.New("schedule owner ambiguous")
	// ErrClassificationAmbiguous is reserved. Day-type conflicts are settled by
	// precedence (weekday, then saturday, then sunday) and never raised.
	ErrClassificationAmbiguous = errors.New("classification ambiguous")
	ErrStoreWriteFailed        = errors.New("store write failed")
)

// ArchiveError reports a container that could not be opened at all.
type ArchiveError struct {
	Source string
	Err    error
}

func (e *ArchiveError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %v", ErrArchiveCorrupt, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", ErrArchiveCorrupt, e.Source, e.Err)
}

func (e *ArchiveError) Unwrap() error        { return e.Err }
func (e *ArchiveError) Is(target error) bool { return target == ErrArchiveCorrupt }

// ResourceError reports a single archive member that could not be decoded.
type ResourceError struct {
	Resource string
	Line     int
	Err      error
}

func (e *ResourceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s %s (line %d): %v", ErrResourceUnreadable, e.Resource, e.Line, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", ErrResourceUnreadable, e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error        { return e.Err }
func (e *ResourceError) Is(target error) bool { return target == ErrResourceUnreadable }

type MissingResourceError struct {
	Resource string
}

func (e *MissingResourceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingRequiredResource, e.Resource)
}

func (e *MissingResourceError) Is(target error) bool { return target == ErrMissingRequiredResource }

// FieldError reports a value that could not be converted to its typed form.
type FieldError struct {
	Resource string
	Line     int
	Field    string
	Value    string
	Err      error
}

func (e *FieldError) Error() string {
	msg := fmt.Sprintf("%s %s.%s = %q (line %d)", ErrMalformedField, e.Resource, e.Field, e.Value, e.Line)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FieldError) Unwrap() error        { return e.Err }
func (e *FieldError) Is(target error) bool { return target == ErrMalformedField }

// DanglingReferenceError reports an external id that does not resolve.
// Kind names the table the id was expected in ("trip", "route", "service",
// "stop", "agency"); From names the record holding the reference.
type DanglingReferenceError struct {
	Kind string
	ID   string
	From string
}

func Dangling(kind, id, from string) *DanglingReferenceError {
	return &DanglingReferenceError{Kind: kind, ID: id, From: from}
}

func (e *DanglingReferenceError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("%s(%s, %q)", ErrDanglingReference, e.Kind, e.ID)
	}
	return fmt.Sprintf("%s(%s, %q) from %s", ErrDanglingReference, e.Kind, e.ID, e.From)
}

func (e *DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }

// OwnerError lists the agencies a feed's schedules could have belonged to.
type OwnerError struct {
	Agencies []string
}

func (e *OwnerError) Error() string {
	return fmt.Sprintf("%s: feed has %d agencies %q, an owner agency must be given", ErrOwnerAmbiguous, len(e.Agencies), e.Agencies)
}

func (e *OwnerError) Is(target error) bool { return target == ErrOwnerAmbiguous }

// StoreWriteError reports the persistence stage that failed and how many of
// its rows were committed before the failure. Earlier stages stay committed.
type StoreWriteError struct {
	Stage     string
	Succeeded int
	Total     int
	Err       error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("%s at stage %s (%d/%d rows committed): %v",
		ErrStoreWriteFailed, e.Stage, e.Succeeded, e.Total, e.Err)
}

func (e *StoreWriteError) Unwrap() error        { return e.Err }
func (e *StoreWriteError) Is(target error) bool { return target == ErrStoreWriteFailed }

// OutcomeUnknown is true when the run deadline expired while a write was in
// flight; the committed row count must then be verified against the store.
func (e *StoreWriteError) OutcomeUnknown() bool {
	return errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, context.Canceled)
}

// IsParseFailure reports whether err was raised before any write was issued.
func IsParseFailure(err error) bool {
	for _, kind := range []error{
		ErrArchiveCorrupt,
		ErrResourceUnreadable,
		ErrMissingRequiredResource,
		ErrMalformedField,
		ErrDanglingReference,
		ErrOwnerAmbiguous,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsPartialWrite reports whether err came from a persistence stage, in which
// case rows of earlier stages may already be committed.
func IsPartialWrite(err error) bool {
	var swe *StoreWriteError
	return errors.As(err, &swe)
}
