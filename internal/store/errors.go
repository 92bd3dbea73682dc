package store

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrWrite        = errors.New("write failed")
	ErrSubscription = errors.New("subscription failed")
	ErrUnavailable  = errors.New("primary and secondary stores unavailable")
)

// OpError is a failed adapter operation. Kind is one of the sentinels above.
type OpError struct {
	Kind       error
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *OpError) Error() string {
	msg := e.Op + " " + e.Collection
	if e.ID != "" {
		msg += "/" + e.ID
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NotFound(op, collection, id string) error {
	return &OpError{Kind: ErrNotFound, Op: op, Collection: collection, ID: id}
}

func WriteFailed(op, collection, id string, err error) error {
	return &OpError{Kind: ErrWrite, Op: op, Collection: collection, ID: id, Err: err}
}

func SubscriptionFailed(collection string, err error) error {
	return &OpError{Kind: ErrSubscription, Op: "subscribe", Collection: collection, Err: err}
}

// UnavailableError reports an operation that failed on both backends.
type UnavailableError struct {
	Op            string
	PrimaryName   string
	Primary       error
	SecondaryName string
	Secondary     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v: primary %s: %v; secondary %s: %v",
		e.Op, ErrUnavailable, e.PrimaryName, e.Primary, e.SecondaryName, e.Secondary)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() []error {
	return []error{e.Primary, e.Secondary}
}
