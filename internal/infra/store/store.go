// Package store provides the persisted key-value store behind the playlist.
//
// The store is partitioned into three named collections. Each Put is atomic
// for its key; there are no transactions spanning keys or collections.
package store

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Collection names a partition of the store.
type Collection string

const (
	AudioFiles Collection = "audioFiles" // Raw audio payloads keyed by track key
	Playlist   Collection = "playlist"   // Track metadata keyed by track key
	Settings   Collection = "settings"   // Single-record settings such as the last playback state
)

// Collections lists every known collection.
var Collections = []Collection{AudioFiles, Playlist, Settings}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	switch c {
	case AudioFiles, Playlist, Settings:
		return true
	default:
		return false
	}
}

// String returns the collection name.
func (c Collection) String() string {
	return string(c)
}

// Errors
var (
	ErrNotFound          = errors.New("key not found")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrStorageFailure    = errors.New("storage failure")
)

// Entry is a single key/value pair returned by GetAll.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the contract every backend implements.
// Backend errors are marked with ErrStorageFailure; a missing key is
// reported as ErrNotFound.
type Store interface {
	Put(ctx context.Context, coll Collection, key string, value []byte) error
	Get(ctx context.Context, coll Collection, key string) ([]byte, error)
	GetAll(ctx context.Context, coll Collection) ([]Entry, error)
	Close() error
}

// failure wraps a backend error so callers can match it with ErrStorageFailure.
func failure(err error, op string, coll Collection, key string) error {
	switch {
	case coll == "":
		return errors.Mark(errors.Wrapf(err, "store: %s", op), ErrStorageFailure)
	case key == "":
		return errors.Mark(errors.Wrapf(err, "store: %s %s", op, coll), ErrStorageFailure)
	}
	return errors.Mark(errors.Wrapf(err, "store: %s %s/%s", op, coll, key), ErrStorageFailure)
}

func checkCollection(coll Collection) error {
	if !coll.Valid() {
		return errors.Wrapf(ErrUnknownCollection, "collection %q", string(coll))
	}
	return nil
}

func notFound(coll Collection, key string) error {
	return errors.Wrapf(ErrNotFound, "%s/%s", coll, key)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
