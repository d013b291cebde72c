// Package coordinator is the entry point for transfers: it resolves a song,
// starts the song, video or lyric download into the right root and reports
// back through a Callback.
package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"musictransfer/internal/config"
	"musictransfer/internal/logger"
	"musictransfer/internal/lyrics"
	"musictransfer/internal/metadata"
	"musictransfer/internal/model"
	"musictransfer/internal/transfer"
	"musictransfer/internal/transport"

	"github.com/samber/lo"
)

var (
	// ErrTransferActive is returned when the model already has a
	// progress-bearing transfer running.
	ErrTransferActive = errors.New("transfer already active for this song")
	ErrNilModel       = errors.New("model is nil")
	// ErrNoLyrics is returned by the lyrics fallback when it finds nothing.
	ErrNoLyrics = errors.New("no lyrics found")
)

// lyricTagSuffix keeps companion lyric downloads apart from the song
// download sharing the model's id.
const lyricTagSuffix = ":lyric"

// artworkLimit bounds the cover image held in memory.
const artworkLimit = 10 << 20

// Callback receives the outcome of a coordinated transfer.
type Callback interface {
	// OnFirst fires once metadata is resolved, before any bytes move.
	OnFirst(m model.Song)
	// OnSecond fires when the primary file has been saved.
	OnSecond(m model.Song)
	OnError(m model.Song, err error)
}

// CallbackFuncs adapts plain functions to Callback. Nil fields are skipped.
type CallbackFuncs struct {
	First  func(m model.Song)
	Second func(m model.Song)
	Error  func(m model.Song, err error)
}

func (f CallbackFuncs) OnFirst(m model.Song) {
	if f.First != nil {
		f.First(m)
	}
}

func (f CallbackFuncs) OnSecond(m model.Song) {
	if f.Second != nil {
		f.Second(m)
	}
}

func (f CallbackFuncs) OnError(m model.Song, err error) {
	if f.Error != nil {
		f.Error(m, err)
	}
}

// Downloader is the transport the coordinator drives.
type Downloader interface {
	transfer.Downloader
	Cancel(tag string) int
}

// LyricsFetcher looks lyrics up by song details.
type LyricsFetcher interface {
	Fetch(ctx context.Context, artist, title, album string) (lyrics.Result, error)
}

// ArtworkFetcher downloads small files such as cover images.
type ArtworkFetcher interface {
	GetBytes(ctx context.Context, rawURL string, limit int64) ([]byte, error)
}

// Coordinator runs transfers. At most one progress-bearing transfer per
// model id is active at a time.
type Coordinator struct {
	paths    config.Paths
	policy   transport.Policy
	tagFiles bool

	dl         Downloader
	resolver   metadata.Source
	lyrics     LyricsFetcher
	artwork    ArtworkFetcher
	suppressed func(m model.Song, err error)
	tagger     func(path string, md model.Metadata) error
	logger     *logger.Logger

	mu     sync.Mutex
	active map[string]*entry
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithLyricsFallback makes lyric transfers fall back to f when the lookup
// service has no lyric link.
func WithLyricsFallback(f LyricsFetcher) Option {
	return func(c *Coordinator) {
		c.lyrics = f
	}
}

// WithArtwork embeds the album cover when tagging finished songs.
func WithArtwork(f ArtworkFetcher) Option {
	return func(c *Coordinator) {
		c.artwork = f
	}
}

// WithSuppressed installs a hook receiving every failure of a best-effort
// companion job.
func WithSuppressed(fn func(m model.Song, err error)) Option {
	return func(c *Coordinator) {
		c.suppressed = fn
	}
}

// WithTagger replaces the function used to tag finished songs.
func WithTagger(fn func(path string, md model.Metadata) error) Option {
	return func(c *Coordinator) {
		c.tagger = fn
	}
}

// New creates a Coordinator writing into cfg's roots with cfg's transfer
// policy.
func New(cfg config.Config, dl Downloader, resolver metadata.Source, options ...Option) *Coordinator {
	c := &Coordinator{
		paths:    cfg.Paths,
		policy:   Policy(cfg.Transfer),
		tagFiles: cfg.TagFiles,
		dl:       dl,
		resolver: resolver,
		tagger:   metadata.WriteTags,
		logger:   logger.Discard(),
		active:   make(map[string]*entry),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Policy converts the configured transfer settings to a transport policy.
func Policy(t config.Transfer) transport.Policy {
	return transport.Policy{
		ConnectTimeout: t.ConnectTimeout,
		ReadTimeout:    t.ReadTimeout,
		WriteTimeout:   t.WriteTimeout,
		RetryCount:     t.RetryCount,
		RetryDelay:     t.RetryDelay,
		RateLimit:      t.RateLimit,
	}
}

// Download resolves m and saves the song into the song root, plus its lyric
// into the lyric root when withLyric is set.
func (c *Coordinator) Download(ctx context.Context, m model.Song, withLyric bool, cb Callback) error {
	return c.download(ctx, m, withLyric, false, cb)
}

// DownloadCache is Download with the cache root as destination for both
// files.
func (c *Coordinator) DownloadCache(ctx context.Context, m model.Song, withLyric bool, cb Callback) error {
	return c.download(ctx, m, withLyric, true, cb)
}

// DownloadMV saves the video at m's SongURL into the mv root. Metadata is
// not resolved; the caller sets it. OnFirst is not called.
func (c *Coordinator) DownloadMV(ctx context.Context, m model.Song, cb Callback) error {
	return c.direct(ctx, m, transfer.KindMV, c.paths.MV, cb)
}

// DownloadLyric saves only the lyric of m, resolving m first if it has no
// lyric link. Failures are reported to cb.
func (c *Coordinator) DownloadLyric(ctx context.Context, m model.Song, cache bool, cb Callback) error {
	return c.direct(ctx, m, transfer.KindLyric, c.lyricRoot(cache), cb)
}

// Cancel stops the transfers of the model with id (see model.GenerateID),
// including a companion lyric download. It reports whether anything was
// running.
func (c *Coordinator) Cancel(id string) bool {
	c.mu.Lock()
	e := c.active[id]
	if e != nil {
		delete(c.active, id)
	}
	c.mu.Unlock()

	found := false
	if e != nil {
		e.stop()
		found = true
	}
	if c.dl.Cancel(id+lyricTagSuffix) > 0 {
		found = true
	}
	if found {
		c.logger.Debug("Cancelled %s", id)
	}
	return found
}

// Active returns the ids of models with a running progress-bearing transfer.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	ids := lo.Keys(c.active)
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Wait blocks until every transfer started so far has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) download(ctx context.Context, m model.Song, withLyric, cache bool, cb Callback) error {
	if m == nil {
		return ErrNilModel
	}
	cb = orNoop(cb)

	id := model.GenerateID(m)
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	e, err := c.reserve(id, cancel)
	if err != nil {
		cancel()
		return err
	}

	log := c.logger.With("transfer_id", id)
	log.Debug("Resolving song %s", m.Music().SongID)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(id, e)
		defer cancel()

		metadata.ResolveInto(ctx, c.resolver, m, func(m model.Song) {
			if e.isStopped() {
				return
			}
			cb.OnFirst(m)

			job := transfer.New(c.dl, m, transfer.Options{
				Kind:     transfer.KindSong,
				Root:     c.songRoot(cache),
				Tag:      id,
				Policy:   c.policy,
				Errors:   transfer.PolicyReport,
				Progress: true,
				Logger:   c.logger,
				OnComplete: func(m model.Song, res transfer.Result) {
					c.release(id, e)
					c.finishSong(ctx, m, res)
					cb.OnSecond(m)
				},
				OnError: func(m model.Song, err error) {
					c.release(id, e)
					cb.OnError(m, err)
				},
			})
			if !e.attach(job) {
				return
			}
			if err := job.Start(ctx); err != nil {
				c.release(id, e)
				cb.OnError(m, err)
				return
			}

			if withLyric {
				c.companionLyric(parent, m, id, cache)
			}
			<-job.Done()
		}, func(m model.Song, err error) {
			if e.isStopped() {
				return
			}
			log.Warn("Could not resolve song %s: %v", m.Music().SongID, err)
			c.release(id, e)
			cb.OnError(m, err)
		})
	}()
	return nil
}

// direct runs a single progress-bearing job without the resolve step.
func (c *Coordinator) direct(ctx context.Context, m model.Song, kind transfer.Kind, root string, cb Callback) error {
	if m == nil {
		return ErrNilModel
	}
	cb = orNoop(cb)

	id := model.GenerateID(m)
	e, err := c.reserve(id, nil)
	if err != nil {
		return err
	}

	opts := transfer.Options{
		Kind:     kind,
		Root:     root,
		Tag:      id,
		Policy:   c.policy,
		Errors:   transfer.PolicyReport,
		Progress: true,
		Logger:   c.logger,
		OnComplete: func(m model.Song, _ transfer.Result) {
			c.release(id, e)
			cb.OnSecond(m)
		},
		OnError: func(m model.Song, err error) {
			c.release(id, e)
			cb.OnError(m, err)
		},
	}
	if kind == transfer.KindLyric {
		opts.Resolver = c.resolver
		opts.Fallback = c.lyricsFallback()
	}

	job := transfer.New(c.dl, m, opts)
	if !e.attach(job) {
		return transfer.ErrCancelled
	}
	if err := job.Start(ctx); err != nil {
		c.release(id, e)
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-job.Done()
		c.release(id, e)
	}()
	return nil
}

// companionLyric starts the best-effort lyric download that accompanies a
// song. Its outcome never reaches the caller's Callback.
func (c *Coordinator) companionLyric(ctx context.Context, m model.Song, id string, cache bool) {
	root := c.lyricRoot(cache)
	job := transfer.New(c.dl, m, transfer.Options{
		Kind:       transfer.KindLyric,
		Root:       root,
		Tag:        id + lyricTagSuffix,
		Policy:     c.policy,
		Errors:     transfer.PolicyBestEffort,
		Resolver:   c.resolver,
		Fallback:   c.lyricsFallback(),
		Logger:     c.logger,
		Suppressed: c.suppress,
	})
	if err := job.Start(ctx); err != nil {
		c.suppress(m, err)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-job.Done()
	}()
}

// lyricsFallback returns the job fallback asking the lyrics fetcher, or nil
// when none is configured.
func (c *Coordinator) lyricsFallback() func(context.Context, model.Song) ([]byte, error) {
	if c.lyrics == nil {
		return nil
	}
	return func(ctx context.Context, m model.Song) ([]byte, error) {
		md, _ := m.Music().Metadata()
		res, err := c.lyrics.Fetch(ctx, md.ArtistName, md.SongName, md.AlbumName)
		if err != nil {
			return nil, err
		}
		text := res.LRC()
		if text == "" {
			return nil, ErrNoLyrics
		}
		c.logger.Debug("Using fallback lyrics for %s", md.SongName)
		return []byte(text), nil
	}
}

// finishSong tags a saved song. Failures are logged only.
func (c *Coordinator) finishSong(ctx context.Context, m model.Song, res transfer.Result) {
	if !c.tagFiles {
		return
	}

	md, _ := m.Music().Metadata()
	if err := c.tagger(res.Path, md); err != nil {
		c.logger.Warn("Failed to tag %s: %v", res.Path, err)
		return
	}

	if c.artwork == nil || md.AlbumURL == "" {
		return
	}
	data, err := c.artwork.GetBytes(ctx, md.AlbumURL, artworkLimit)
	if err != nil {
		c.logger.Warn("Failed to download artwork for %s: %v", md.SongName, err)
		return
	}
	if err := metadata.WriteArtwork(res.Path, data); err != nil {
		c.logger.Warn("%v", err)
	}
}

func (c *Coordinator) suppress(m model.Song, err error) {
	c.logger.Debug("Lyric for %s skipped: %v", m.Music().SongID, err)
	if c.suppressed != nil {
		c.suppressed(m, err)
	}
}

func (c *Coordinator) songRoot(cache bool) string {
	if cache {
		return c.paths.Cache
	}
	return c.paths.Song
}

func (c *Coordinator) lyricRoot(cache bool) string {
	if cache {
		return c.paths.Cache
	}
	return c.paths.Lyric
}

func (c *Coordinator) reserve(id string, cancel context.CancelFunc) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[id]; ok {
		return nil, ErrTransferActive
	}
	e := &entry{cancel: cancel}
	c.active[id] = e
	return e, nil
}

// release frees id if it is still held by e.
func (c *Coordinator) release(id string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[id] == e {
		delete(c.active, id)
	}
}

// entry is the registry slot of one model's progress-bearing transfer.
type entry struct {
	mu      sync.Mutex
	job     *transfer.Job
	cancel  context.CancelFunc
	stopped bool
}

func (e *entry) attach(job *transfer.Job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.job = job
	return true
}

func (e *entry) stop() {
	e.mu.Lock()
	e.stopped = true
	job, cancel := e.job, e.cancel
	e.mu.Unlock()

	if job != nil {
		job.Cancel()
	}
	if cancel != nil {
		cancel()
	}
}

func (e *entry) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func orNoop(cb Callback) Callback {
	if cb == nil {
		return CallbackFuncs{}
	}
	return cb
}
