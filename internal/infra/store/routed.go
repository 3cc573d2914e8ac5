package store

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Routed sends selected collections to dedicated backends and everything
// else to the primary.
type Routed struct {
	primary Store
	routes  map[Collection]Store
}

var _ Store = (*Routed)(nil)

// NewRouted creates a routed store. Routes for unknown collections are rejected.
func NewRouted(primary Store, routes map[Collection]Store) (*Routed, error) {
	for coll := range routes {
		if err := checkCollection(coll); err != nil {
			return nil, err
		}
	}
	return &Routed{primary: primary, routes: routes}, nil
}

func (r *Routed) backend(coll Collection) Store {
	if s, ok := r.routes[coll]; ok {
		return s
	}
	return r.primary
}

// Put writes to the backend owning coll.
func (r *Routed) Put(ctx context.Context, coll Collection, key string, value []byte) error {
	return r.backend(coll).Put(ctx, coll, key, value)
}

// Get reads from the backend owning coll.
func (r *Routed) Get(ctx context.Context, coll Collection, key string) ([]byte, error) {
	return r.backend(coll).Get(ctx, coll, key)
}

// GetAll reads from the backend owning coll.
func (r *Routed) GetAll(ctx context.Context, coll Collection) ([]Entry, error) {
	return r.backend(coll).GetAll(ctx, coll)
}

// Close closes every distinct backend and joins their errors.
func (r *Routed) Close() error {
	seen := map[Store]bool{r.primary: true}
	err := r.primary.Close()
	for _, s := range r.routes {
		if seen[s] {
			continue
		}
		seen[s] = true
		err = errors.CombineErrors(err, s.Close())
	}
	return err
}
