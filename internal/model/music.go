// Package model holds the caller-owned song records that transfers read from
// and write progress into.
package model

import "sync"

// Metadata is everything the lookup service resolves for a song.
type Metadata struct {
	SongName    string
	SongURL     string
	ArtistID    string
	ArtistName  string
	AlbumID     string
	AlbumName   string
	AlbumURL    string
	LrcURL      string
	FileFolder  string
	FilePostfix string
}

// Song is implemented by every model a transfer can operate on.
// ProgressSink returns nil when the model does not track progress.
type Song interface {
	Music() *MusicModel
	ProgressSink() ProgressSink
}

// MusicModel identifies a song and carries its resolved metadata.
// Metadata is set as a whole, so readers never observe a partial merge.
type MusicModel struct {
	SongID string

	mu       sync.RWMutex
	meta     Metadata
	resolved bool
}

// NewMusicModel creates an unresolved model for songID.
func NewMusicModel(songID string) *MusicModel {
	return &MusicModel{SongID: songID}
}

func (m *MusicModel) Music() *MusicModel { return m }

// ProgressSink always returns nil: a bare MusicModel has no progress fields.
func (m *MusicModel) ProgressSink() ProgressSink { return nil }

// Metadata returns a copy of the resolved metadata and whether it is set.
func (m *MusicModel) Metadata() (Metadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta, m.resolved
}

// Apply replaces all metadata fields at once.
func (m *MusicModel) Apply(md Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = md
	m.resolved = true
}

// Resolved reports whether metadata has been applied.
func (m *MusicModel) Resolved() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolved
}

// SongName is a convenience accessor used in logs and file names.
func (m *MusicModel) SongName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta.SongName
}
