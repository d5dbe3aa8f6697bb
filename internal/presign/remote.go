package presign

import (
	"context"

	"github.com/maauso/aige-pipeline/internal/aige"
)

// URLMinter is the part of the AIGE client the remote allocator needs.
type URLMinter interface {
	GenerateURLs(ctx context.Context) (aige.URLs, error)
}

// Compile-time check that RemoteAllocator implements Allocator.
var _ Allocator = (*RemoteAllocator)(nil)

// RemoteAllocator asks the service's URL-minting endpoint for each pair.
type RemoteAllocator struct {
	client URLMinter
}

// NewRemoteAllocator creates an allocator backed by client.
func NewRemoteAllocator(client URLMinter) *RemoteAllocator {
	return &RemoteAllocator{client: client}
}

// Allocate performs one request to the URL-minting endpoint.
func (a *RemoteAllocator) Allocate(ctx context.Context) (URLPair, error) {
	urls, err := a.client.GenerateURLs(ctx)
	if err != nil {
		return URLPair{}, &AllocationError{Err: err}
	}

	pair := URLPair{Key: urls.Key, WriteURL: urls.WriteURL, ReadURL: urls.ReadURL}
	if err := validate(pair); err != nil {
		return URLPair{}, err
	}
	return pair, nil
}
