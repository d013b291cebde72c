// Package metadata resolves song metadata from the lookup service and writes
// it into models and audio files.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"musictransfer/internal/logger"
	"musictransfer/internal/lookup"
	"musictransfer/internal/model"
)

// ErrEmptyResult is returned when the lookup service knows no song for the id.
var ErrEmptyResult = errors.New("data is empty")

// Lookup fetches raw song entries for an id.
type Lookup interface {
	Song(ctx context.Context, songID string) ([]lookup.Entry, error)
}

// Source resolves a song id into complete Metadata.
type Source interface {
	Resolve(ctx context.Context, songID string) (model.Metadata, error)
}

// Resolver turns a song id into complete Metadata.
type Resolver struct {
	lookup   Lookup
	songRoot string
	logger   *logger.Logger
}

// NewResolver creates a Resolver. songRoot is recorded as the FileFolder of
// every resolved song.
func NewResolver(l Lookup, songRoot string, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Discard()
	}
	return &Resolver{lookup: l, songRoot: songRoot, logger: log}
}

// Resolve performs one lookup for songID. Only the first entry is used.
func (r *Resolver) Resolve(ctx context.Context, songID string) (model.Metadata, error) {
	entries, err := r.lookup.Song(ctx, songID)
	if err != nil {
		return model.Metadata{}, err
	}
	if len(entries) == 0 {
		return model.Metadata{}, fmt.Errorf("song %s: %w", songID, ErrEmptyResult)
	}

	e := entries[0]
	r.logger.Debug("Resolved %s: %q by %q (%s)", songID, e.SongName, e.ArtistName, e.Format)

	return model.Metadata{
		SongName:    e.SongName,
		SongURL:     e.SongLink,
		ArtistID:    e.ArtistID.String(),
		ArtistName:  e.ArtistName,
		AlbumID:     e.AlbumID.String(),
		AlbumName:   e.AlbumName,
		AlbumURL:    e.SongPicSmall,
		LrcURL:      e.LrcLink,
		FileFolder:  r.songRoot,
		FilePostfix: e.Format,
	}, nil
}

// ResolveInto resolves m, applies the result to m as a whole and then calls
// exactly one of onSuccess or onError with the same m. On failure m is left
// untouched.
func ResolveInto[T model.Song](ctx context.Context, r Source, m T, onSuccess func(T), onError func(T, error)) {
	md, err := r.Resolve(ctx, m.Music().SongID)
	if err != nil {
		if onError != nil {
			onError(m, err)
		}
		return
	}

	m.Music().Apply(md)
	if onSuccess != nil {
		onSuccess(m)
	}
}

// Go runs ResolveInto on its own goroutine and returns a channel closed once
// the continuation has returned.
func Go[T model.Song](ctx context.Context, r Source, m T, onSuccess func(T), onError func(T, error)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ResolveInto(ctx, r, m, onSuccess, onError)
	}()
	return done
}
