// Package faults classifies errors raised by an operation under evaluation.
package faults

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Class is the outcome of classifying an error.
type Class int

const (
	// Failure is an ordinary evaluation error: counted and timed.
	Failure Class = iota
	// Ignorable errors are swallowed; the iteration does not count.
	Ignorable
	// Abort errors terminate the run without validation.
	Abort
)

func (c Class) String() string {
	switch c {
	case Ignorable:
		return "ignorable"
	case Abort:
		return "abort"
	default:
		return "failure"
	}
}

// Policy holds the registered ignorable and abort error kinds. A kind is
// matched by dynamic type anywhere in the error's Unwrap chain. Sentinel
// values registered with IgnoreSentinel/AbortSentinel match through errors.Is.
// Policy is safe for concurrent use.
type Policy struct {
	mu        sync.RWMutex
	ignorable []kind
	abort     []kind
}

type kind struct {
	typ      reflect.Type
	sentinel error
}

// NewPolicy returns a policy with nothing registered.
func NewPolicy() *Policy {
	return &Policy{}
}

// DefaultPolicy returns a policy that aborts on SkipError.
func DefaultPolicy() *Policy {
	p := NewPolicy()
	p.Abort(&SkipError{})
	return p
}

// Ignore registers the dynamic types of kinds as not counted at all.
func (p *Policy) Ignore(kinds ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignorable = appendKinds(p.ignorable, kinds, false)
}

// Abort registers the dynamic types of kinds as terminating the run.
func (p *Policy) Abort(kinds ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abort = appendKinds(p.abort, kinds, false)
}

// IgnoreSentinel registers sentinel values matched with errors.Is.
func (p *Policy) IgnoreSentinel(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignorable = appendKinds(p.ignorable, errs, true)
}

// AbortSentinel registers sentinel values matched with errors.Is.
func (p *Policy) AbortSentinel(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abort = appendKinds(p.abort, errs, true)
}

// Clear removes every registration.
func (p *Policy) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignorable = nil
	p.abort = nil
}

// Classify reports how err must be treated. Abort wins over Ignorable when
// an error matches both. A nil policy classifies everything as Failure.
func (p *Policy) Classify(err error) Class {
	if p == nil || err == nil {
		return Failure
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if matchesAny(err, p.abort) {
		return Abort
	}
	if matchesAny(err, p.ignorable) {
		return Ignorable
	}
	return Failure
}

func appendKinds(dst []kind, kinds []error, sentinel bool) []kind {
	for _, k := range kinds {
		if k == nil {
			continue
		}
		if sentinel {
			dst = append(dst, kind{sentinel: k})
		} else {
			dst = append(dst, kind{typ: reflect.TypeOf(k)})
		}
	}
	return dst
}

func matchesAny(err error, kinds []kind) bool {
	for _, k := range kinds {
		if k.matches(err) {
			return true
		}
	}
	return false
}

func (k kind) matches(err error) bool {
	if k.sentinel != nil {
		return errors.Is(err, k.sentinel)
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if reflect.TypeOf(e) == k.typ {
			return true
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if k.matches(inner) {
					return true
				}
			}
		}
	}
	return false
}

// SkipError signals that the evaluation should be abandoned and reported as
// skipped rather than failed.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	if e.Reason == "" {
		return "evaluation skipped"
	}
	return fmt.Sprintf("evaluation skipped: %s", e.Reason)
}

// Skip returns a SkipError with the given reason.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}
