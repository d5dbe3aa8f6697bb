// Package presign allocates presigned write/read URL pairs that the AIGE
// service uploads stage artifacts to.
package presign

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when an allocation response lacks a URL.
var ErrMalformedPayload = errors.New("presign: malformed payload")

// URLPair is a freshly minted write/read pair for one artifact.
type URLPair struct {
	// Key is the object key both URLs point at.
	Key string `json:"key"`
	// WriteURL is the presigned upload target.
	WriteURL string `json:"writeUrl"`
	// ReadURL is where the artifact can be fetched after upload.
	ReadURL string `json:"readUrl"`
}

// Allocator mints URL pairs. Every call returns a new pair.
type Allocator interface {
	Allocate(ctx context.Context) (URLPair, error)
}

// AllocationError reports a failed allocation. Nothing is retried.
type AllocationError struct {
	Err error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("presign: allocation failed: %v", e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

func validate(p URLPair) error {
	switch {
	case p.WriteURL == "":
		return &AllocationError{Err: fmt.Errorf("%w: missing writeUrl", ErrMalformedPayload)}
	case p.ReadURL == "":
		return &AllocationError{Err: fmt.Errorf("%w: missing readUrl", ErrMalformedPayload)}
	default:
		return nil
	}
}
