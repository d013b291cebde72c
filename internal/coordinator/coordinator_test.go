package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"musictransfer/internal/config"
	"musictransfer/internal/lyrics"
	"musictransfer/internal/metadata"
	"musictransfer/internal/model"
	"musictransfer/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	body  string
	err   error
	block bool
}

// fakeTransport plays back canned responses by URL on its own goroutines.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]response
	requests  []transport.Request
	cancels   map[string][]context.CancelFunc
	blocked   chan string
}

func newFakeTransport(responses map[string]response) *fakeTransport {
	return &fakeTransport{
		responses: responses,
		cancels:   make(map[string][]context.CancelFunc),
		blocked:   make(chan string, 8),
	}
}

func (f *fakeTransport) Download(ctx context.Context, req transport.Request, l transport.Listener) {
	ctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.cancels[req.Tag] = append(f.cancels[req.Tag], cancel)
	resp, ok := f.responses[req.URL]
	f.mu.Unlock()
	if !ok {
		resp = response{err: &transport.StatusError{URL: req.URL, Code: 404}}
	}

	go func() {
		l.OnStart()
		path := filepath.Join(req.Dir, req.FileName)
		os.MkdirAll(req.Dir, 0755)
		os.WriteFile(path, []byte(resp.body), 0644)

		switch {
		case resp.block:
			l.OnProgress(1, 10)
			f.blocked <- req.Tag
			<-ctx.Done()
			l.OnCancel()
		case resp.err != nil:
			l.OnError(resp.err)
		default:
			n := int64(len(resp.body))
			l.OnProgress(n/2, n)
			l.OnProgress(n, n)
			l.OnSuccess()
		}
	}()
}

func (f *fakeTransport) Cancel(tag string) int {
	f.mu.Lock()
	cancels := f.cancels[tag]
	delete(f.cancels, tag)
	f.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

func (f *fakeTransport) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		out = append(out, r.URL)
	}
	return out
}

type fakeSource map[string]model.Metadata

func (s fakeSource) Resolve(_ context.Context, songID string) (model.Metadata, error) {
	md, ok := s[songID]
	if !ok {
		return model.Metadata{}, fmt.Errorf("song %s: %w", songID, metadata.ErrEmptyResult)
	}
	return md, nil
}

type fakeLyrics struct {
	result lyrics.Result
	err    error
}

func (f fakeLyrics) Fetch(context.Context, string, string, string) (lyrics.Result, error) {
	return f.result, f.err
}

// recorder is a Callback that logs events in order.
type recorder struct {
	mu     sync.Mutex
	events []string
	err    error
	done   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 1)}
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnFirst(model.Song) { r.add("first") }

func (r *recorder) OnSecond(model.Song) {
	r.add("second")
	r.done <- struct{}{}
}

func (r *recorder) OnError(_ model.Song, err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.add("error")
	r.done <- struct{}{}
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal callback")
	}
}

func testConfig(t *testing.T) config.Config {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths = config.Paths{
		Song:  filepath.Join(root, "song"),
		MV:    filepath.Join(root, "mv"),
		Lyric: filepath.Join(root, "lyric"),
		Cache: filepath.Join(root, "cache"),
	}
	cfg.Transfer.RetryDelay = time.Millisecond
	return cfg
}

func fooSource(cfg config.Config) fakeSource {
	return fakeSource{"12345": {
		SongName:    "Foo",
		SongURL:     "http://x/f.mp3",
		ArtistName:  "Bar",
		AlbumName:   "Baz",
		LrcURL:      "http://x/f.lrc",
		FileFolder:  cfg.Paths.Song,
		FilePostfix: "mp3",
	}}
}

func TestDownloadSong(t *testing.T) {
	cfg := testConfig(t)
	dl := newFakeTransport(map[string]response{"http://x/f.mp3": {body: "audio"}})
	c := New(cfg, dl, fooSource(cfg))

	m := model.NewTransferModel("12345")
	rec := newRecorder()
	require.NoError(t, c.Download(context.Background(), m, false, rec))
	rec.wait(t)
	c.Wait()

	assert.Equal(t, []string{"first", "second"}, rec.Events())
	assert.FileExists(t, filepath.Join(cfg.Paths.Song, "Foo.mp3"))
	assert.NoFileExists(t, filepath.Join(cfg.Paths.Song, "Foo.mp3.download"))
	assert.Equal(t, model.StateDone, m.State())
	assert.Equal(t, []string{"http://x/f.mp3"}, dl.urls())
	assert.Empty(t, c.Active())

	md, ok := m.Metadata()
	require.True(t, ok)
	assert.Equal(t, "Foo", md.SongName)
}

func TestDownloadLyricOutcomeNotReported(t *testing.T) {
	cfg := testConfig(t)
	dl := newFakeTransport(map[string]response{"http://x/f.mp3": {body: "audio"}})

	suppressed := make(chan error, 1)
	c := New(cfg, dl, fooSource(cfg), WithSuppressed(func(_ model.Song, err error) {
		suppressed <- err
	}))

	m := model.NewTransferModel("12345")
	rec := newRecorder()
	require.NoError(t, c.Download(context.Background(), m, true, rec))
	rec.wait(t)
	c.Wait()

	assert.Equal(t, []string{"first", "second"}, rec.Events())
	select {
	case err := <-suppressed:
		var statusErr *transport.StatusError
		assert.ErrorAs(t, err, &statusErr)
	default:
		t.Fatal("lyric failure should reach the suppressed hook")
	}
	assert.NoFileExists(t, filepath.Join(cfg.Paths.Lyric, "Foo.lrc.download"))
	assert.Equal(t, model.StateDone, m.State())
}

func TestDownloadWithLyric(t *testing.T) {
	cfg := testConfig(t)
	dl := newFakeTransport(map[string]response{
		"http://x/f.mp3": {body: "audio"},
		"http://x/f.lrc": {body: "[00:01.00]la"},
	})
	c := New(cfg, dl, fooSource(cfg))

	rec := newRecorder()
	require.NoError(t, c.Download(context.Background(), model.NewTransferModel("12345"), true, rec))
	rec.wait(t)
	c.Wait()

	assert.FileExists(t, filepath.Join(cfg.Paths.Song, "Foo.mp3"))
	assert.FileExists(t, filepath.Join(cfg.Paths.Lyric, "Foo.lrc"))
}

func TestDownloadCacheUsesCacheRoot(t *testing.T) {
	cfg := testConfig(t)
	dl := newFakeTransport(map[string]response{
		"http://x/f.mp3": {body: "audio"},
		"http://x/f.lrc": {body: "[00:01.00]la"},
	})
	c := New(cfg, dl, fooSource(cfg))

	rec := newRecorder()
	require.NoError(t, c.DownloadCache(context.Background(), model.NewTransferModel("12345"), true, rec))
	rec.wait(t)
	c.Wait()

	assert.Equal(t, []string{"first", "second"}, rec.Events())
	assert.FileExists(t, filepath.Join(cfg.Paths.Cache, "Foo.mp3"))
	assert.FileExists(t, filepath.Join(cfg.Paths.Cache, "Foo.lrc"))
	assert.NoDirExists(t, cfg.Paths.Song)
	assert.NoDirExists(t, cfg.Paths.Lyric)
}

func TestDownloadResolveFailure(t *testing.T) {
	cfg := testConfig(t)
	dl := newFakeTransport(nil)
	c := New(cfg, dl, fakeSource{})

	m := model.NewTransferModel("404")
	rec := newRecorder()
	require.NoError(t, c.Download(context.Background(), m, true, rec))
	rec.wait(t)
	c.Wait()

	assert.Equal(t, []string{"error"}, rec.Events())
	assert.ErrorIs(t, rec.err, metadata.ErrEmptyResult)
	assert.Empty(t, dl.urls())
	assert.False(t, m.Resolved())
	assert.Equal(t, model.StateIdle, m.State())
}

func TestDownloadSongFailure(t *testing.T) {
	cfg := testConfig(t)
	cause := errors.New("connection reset")
	dl := newFakeTransport(map[string]response{"http://x/f.mp3": {body: "par", err: cause}})
	c := New(cfg, dl, fooSource(cfg))

	m := model.NewTransferModel("12345")
	rec := newRecorder()
	require.NoError(t, c.Download(context.Background(), m, false, rec))
	rec.wait(t)
	c.Wait()

	assert.Equal(t, []string{"first", "error"}, rec.Events())
	assert.ErrorIs(t, rec.err, cause)
	assert.Equal(t, model.StateError, m.State())
	assert.NoFileExists(t, filepath.Join(cfg.Paths.Song, "Foo.mp3.download"))
	assert.NoFileExists(t, filepath.Join(cfg.Paths.Song, "Foo.mp3"))
}

func TestSecondTransferRejectedAndCancel(t *testing.T) {
	cfg := testConfig(t)
	dl := newFakeTransport(map[string]response{"http://x/f.mp3": {body: "aud", block: true}})
	c := New(cfg, dl, fooSource(cfg))

	m := model.NewTransferModel("12345")
	rec := newRecorder()
	require.NoError(t, c.Download(context.Background(), m, false, rec))

	select {
	case <-dl.blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("download never started")
	}

	assert.ErrorIs(t, c.Download(context.Background(), m, false, nil), ErrTransferActive)
	assert.ErrorIs(t, c.DownloadMV(context.Background(), m, nil), ErrTransferActive)
	assert.Equal(t, []string{"transfer_12345"}, c.Active())

	assert.True(t, c.Cancel("transfer_12345"))
	c.Wait()

	assert.Empty(t, c.Active())
	assert.Equal(t, []string{"first"}, rec.Events())
	assert.NoFileExists(t, filepath.Join(cfg.Paths.Song, "Foo.mp3.download"))
	assert.Equal(t, model.StateProgress, m.State())
	assert.False(t, c.Cancel("transfer_12345"))

	// The slot is free again.
	dl.mu.Lock()
	dl.responses["http://x/f.mp3"] = response{body: "audio"}
	dl.mu.Unlock()
	rec2 := newRecorder()
	require.NoError(t, c.Download(context.Background(), m, false, rec2))
	rec2.wait(t)
	c.Wait()
	assert.Equal(t, model.StateDone, m.State())
}

func TestDownloadMV(t *testing.T) {
	cfg := testConfig(t)
	dl := newFakeTransport(map[string]response{"http://x/v.mp4": {body: "video"}})
	c := New(cfg, dl, fakeSource{})

	m := model.NewTransferModel("9")
	m.Apply(model.Metadata{SongName: "Clip", SongURL: "http://x/v.mp4"})

	rec := newRecorder()
	require.NoError(t, c.DownloadMV(context.Background(), m, rec))
	rec.wait(t)
	c.Wait()

	assert.Equal(t, []string{"second"}, rec.Events())
	assert.FileExists(t, filepath.Join(cfg.Paths.MV, "Clip.mp4"))
	assert.Equal(t, model.StateDone, m.State())
}

func TestDownloadMVMissingURL(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg, newFakeTransport(nil), fakeSource{})

	m := model.NewMusicModel("9")
	err := c.DownloadMV(context.Background(), m, nil)
	assert.Error(t, err)
	assert.Empty(t, c.Active())
}

func TestDownloadLyricFallback(t *testing.T) {
	cfg := testConfig(t)
	src := fakeSource{"12345": {SongName: "Foo", ArtistName: "Bar", FilePostfix: "mp3"}}
	c := New(cfg, newFakeTransport(nil), src, WithLyricsFallback(fakeLyrics{
		result: lyrics.Result{Synced: "[00:01.00]la", Plain: "la"},
	}))

	m := model.NewTransferModel("12345")
	rec := newRecorder()
	require.NoError(t, c.DownloadLyric(context.Background(), m, false, rec))
	rec.wait(t)
	c.Wait()

	assert.Equal(t, []string{"second"}, rec.Events())
	data, err := os.ReadFile(filepath.Join(cfg.Paths.Lyric, "Foo.lrc"))
	require.NoError(t, err)
	assert.Equal(t, "[00:01.00]la", string(data))
	assert.Equal(t, model.StateDone, m.State())
}

func TestDownloadLyricNothingFound(t *testing.T) {
	cfg := testConfig(t)
	src := fakeSource{"12345": {SongName: "Foo"}}
	c := New(cfg, newFakeTransport(nil), src, WithLyricsFallback(fakeLyrics{}))

	rec := newRecorder()
	require.NoError(t, c.DownloadLyric(context.Background(), model.NewTransferModel("12345"), true, rec))
	rec.wait(t)
	c.Wait()

	assert.Equal(t, []string{"error"}, rec.Events())
	assert.ErrorIs(t, rec.err, ErrNoLyrics)
}

func TestFinishedSongsAreTagged(t *testing.T) {
	cfg := testConfig(t)
	cfg.TagFiles = true
	dl := newFakeTransport(map[string]response{"http://x/f.mp3": {body: "audio"}})

	var tagged string
	var taggedMeta model.Metadata
	c := New(cfg, dl, fooSource(cfg), WithTagger(func(path string, md model.Metadata) error {
		tagged = path
		taggedMeta = md
		return nil
	}))

	rec := newRecorder()
	require.NoError(t, c.Download(context.Background(), model.NewTransferModel("12345"), false, rec))
	rec.wait(t)
	c.Wait()

	assert.Equal(t, filepath.Join(cfg.Paths.Song, "Foo.mp3"), tagged)
	assert.Equal(t, "Bar", taggedMeta.ArtistName)
}

func TestTaggingFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.TagFiles = true
	dl := newFakeTransport(map[string]response{"http://x/f.mp3": {body: "audio"}})
	c := New(cfg, dl, fooSource(cfg), WithTagger(func(string, model.Metadata) error {
		return errors.New("not an audio file")
	}))

	rec := newRecorder()
	require.NoError(t, c.Download(context.Background(), model.NewTransferModel("12345"), false, rec))
	rec.wait(t)
	c.Wait()

	assert.Equal(t, []string{"first", "second"}, rec.Events())
}

func TestNilModel(t *testing.T) {
	c := New(testConfig(t), newFakeTransport(nil), fakeSource{})
	assert.ErrorIs(t, c.Download(context.Background(), nil, false, nil), ErrNilModel)
	assert.ErrorIs(t, c.DownloadMV(context.Background(), nil, nil), ErrNilModel)
}

func TestCallbackFuncs(t *testing.T) {
	var got []string
	cb := CallbackFuncs{Second: func(model.Song) { got = append(got, "second") }}
	cb.OnFirst(nil)
	cb.OnSecond(nil)
	cb.OnError(nil, errors.New("x"))
	assert.Equal(t, []string{"second"}, got)
}

func TestPolicyFromConfig(t *testing.T) {
	p := Policy(config.DefaultTransfer())
	assert.Equal(t, 3, p.RetryCount)
	assert.Equal(t, time.Second, p.RetryDelay)
	assert.Equal(t, 60*time.Second, p.ConnectTimeout)
	assert.Equal(t, 60*time.Second, p.ReadTimeout)
	assert.Equal(t, 60*time.Second, p.WriteTimeout)
}

func TestFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.LyricsFallback = true
	c := FromConfig(cfg, nil)

	assert.NotNil(t, c.lyrics)
	assert.NotNil(t, c.artwork)
	assert.Equal(t, cfg.Paths, c.paths)
	assert.Empty(t, c.Active())
}

func TestRetryOnSameModel(t *testing.T) {
	cfg := testConfig(t)
	dl := newFakeTransport(nil)
	c := New(cfg, dl, fooSource(cfg))

	var progress, success, failed atomic.Int32
	m := model.NewTransferModel("12345")
	m.SetObserver(model.ObserverFuncs{
		Progress: func(int64, int64) { progress.Add(1) },
		Success:  func() { success.Add(1) },
		Error:    func(error) { failed.Add(1) },
	})

	rec := newRecorder()
	require.NoError(t, c.Download(context.Background(), m, false, rec))
	rec.wait(t)
	c.Wait()
	assert.Equal(t, []string{"first", "error"}, rec.Events())
	assert.Equal(t, model.StateError, m.State())
	assert.Equal(t, int32(1), failed.Load())

	dl.mu.Lock()
	dl.responses = map[string]response{"http://x/f.mp3": {body: "audio"}}
	dl.mu.Unlock()

	rec = newRecorder()
	require.NoError(t, c.Download(context.Background(), m, false, rec))
	rec.wait(t)
	c.Wait()
	assert.Equal(t, []string{"first", "second"}, rec.Events())
	assert.Equal(t, model.StateDone, m.State())
	assert.Positive(t, progress.Load())
	assert.Equal(t, int32(1), success.Load())

	snap := m.Snapshot()
	assert.Equal(t, int64(len("audio")), snap.CurrentLength)
	assert.Equal(t, snap.CurrentLength, snap.TotalLength)

	// A failure after a finished run is reported as ERROR again.
	dl.mu.Lock()
	dl.responses = nil
	dl.mu.Unlock()

	rec = newRecorder()
	require.NoError(t, c.Download(context.Background(), m, false, rec))
	rec.wait(t)
	c.Wait()
	assert.Equal(t, []string{"first", "error"}, rec.Events())
	assert.Equal(t, model.StateError, m.State())
	assert.Equal(t, int32(2), failed.Load())
}
