// Package transfer drives a single file download into the song, mv, lyric or
// cache root using the ".download" then rename convention.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"musictransfer/internal/logger"
	"musictransfer/internal/metadata"
	"musictransfer/internal/model"
	"musictransfer/internal/speed"
	"musictransfer/internal/transport"
	"musictransfer/pkg/utils"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrMissingURL is returned when the model has no URL for the job's kind.
	ErrMissingURL = errors.New("missing download url")
	// ErrCancelled is returned when starting a job that was cancelled.
	ErrCancelled = errors.New("transfer cancelled")
)

// Downloader streams a URL into a file and reports to a Listener.
type Downloader interface {
	Download(ctx context.Context, req transport.Request, l transport.Listener)
}

// Result describes a promoted file.
type Result struct {
	Path string
	Size int64
	// MIME is sniffed from the file content for display only.
	MIME string
}

// Options configures a Job.
type Options struct {
	Kind Kind
	// Root is the destination directory.
	Root   string
	Tag    string
	Policy transport.Policy
	Errors ErrorPolicy
	// Progress wires the job into the model's ProgressSink and observer.
	// At most one job per model may do so.
	Progress bool
	// Resolver, when set, lets a lyric job without a URL resolve the model
	// and start once more.
	Resolver metadata.Source
	// Fallback, when set, produces the file content in memory if the model
	// still has no URL. The result is saved like a download.
	Fallback func(ctx context.Context, m model.Song) ([]byte, error)
	Logger   *logger.Logger

	OnComplete func(m model.Song, res Result)
	OnError    func(m model.Song, err error)
	Suppressed func(m model.Song, err error)
}

// Job is one download of one artifact for one model.
type Job struct {
	dl    Downloader
	model model.Song
	opts  Options
	log   *logger.Logger
	speed *speed.Estimator

	// deliver serializes listener events so that nothing follows the
	// terminal event.
	deliver sync.Mutex

	mu        sync.Mutex
	started   bool
	resolving bool
	retried   bool
	finished  bool
	cancelled bool
	cancel    context.CancelFunc
	partial   string
	final     string

	doneOnce sync.Once
	done     chan struct{}
}

// New creates an idle job for m.
func New(dl Downloader, m model.Song, opts Options) *Job {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	if opts.Tag == "" {
		opts.Tag = model.GenerateID(m)
	}
	j := &Job{
		dl:    dl,
		model: m,
		opts:  opts,
		log:   log.With("transfer_id", opts.Tag, "kind", opts.Kind.String()),
		speed: speed.New(),
		done:  make(chan struct{}),
	}
	// The terminal guard belongs to the job; a reused model starts over.
	if sink := j.sink(); sink != nil {
		sink.Reset()
	}
	return j
}

// Model returns the model the job writes into.
func (j *Job) Model() model.Song { return j.model }

// Kind returns the job's artifact kind.
func (j *Job) Kind() Kind { return j.opts.Kind }

// Done is closed once the job has delivered its terminal event or has been
// cancelled.
func (j *Job) Done() <-chan struct{} { return j.done }

// Paths returns the partial and final file paths. Both are empty until the
// download has been requested.
func (j *Job) Paths() (partial, final string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.partial, j.final
}

// Start requests the download. It returns ErrMissingURL when the model has no
// URL for the job's kind, unless the job can recover: a lyric job with a
// Resolver resolves the model first and starts once more, and a job with a
// Fallback produces the file itself. Failures on those paths are delivered
// through the error policy instead.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.cancelled {
		j.mu.Unlock()
		j.finishQuietly()
		return ErrCancelled
	}
	if j.started || j.finished {
		j.mu.Unlock()
		return fmt.Errorf("transfer %s already started", j.opts.Tag)
	}

	md, _ := j.model.Music().Metadata()
	url := j.opts.Kind.SourceURL(md)
	if url == "" {
		if j.opts.Kind == KindLyric && j.opts.Resolver != nil && !j.retried {
			j.retried = true
			j.resolving = true
			j.mu.Unlock()

			j.log.Debug("No lyric link for %s, resolving first", j.model.Music().SongID)
			metadata.Go(ctx, j.opts.Resolver, j.model, func(model.Song) {
				j.setResolving(false)
				if err := j.Start(ctx); err != nil {
					j.abort(err)
				}
			}, func(_ model.Song, err error) {
				j.setResolving(false)
				j.abort(err)
			})
			return nil
		}
		if j.opts.Fallback != nil {
			ctx, cancel := context.WithCancel(ctx)
			j.started = true
			j.cancel = cancel
			j.mu.Unlock()
			go j.runFallback(ctx)
			return nil
		}
		j.mu.Unlock()
		return ErrMissingURL
	}

	name := utils.SanitizeName(md.SongName) + j.opts.Kind.Extension(md)
	fileName := name + SuffixDownload
	ctx, cancel := context.WithCancel(ctx)

	j.started = true
	j.cancel = cancel
	j.final = filepath.Join(j.opts.Root, name)
	j.partial = filepath.Join(j.opts.Root, fileName)
	j.mu.Unlock()

	j.log.Debug("Requesting %s into %s", url, j.partial)
	j.dl.Download(ctx, transport.Request{
		URL:      url,
		Dir:      j.opts.Root,
		FileName: fileName,
		Tag:      j.opts.Tag,
		Policy:   j.opts.Policy,
	}, j)
	return nil
}

// Cancel stops the job. No terminal event is delivered afterwards and the
// partial file is removed; the model's state is left as it is.
// It reports false if the job had already finished.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	if j.finished || j.cancelled {
		j.mu.Unlock()
		return false
	}
	j.cancelled = true
	cancel := j.cancel
	idle := !j.started && !j.resolving
	j.mu.Unlock()

	j.log.Debug("Cancelling")
	if cancel != nil {
		cancel()
	}
	if idle {
		j.finishQuietly()
	}
	return true
}

func (j *Job) OnStart() {
	j.log.Debug("Transfer started")
}

// OnProgress moves the model to PROGRESS and records counters and speed.
// Ignored once the job is terminal or cancelled.
func (j *Job) OnProgress(current, total int64) {
	j.deliver.Lock()
	defer j.deliver.Unlock()

	j.mu.Lock()
	stop := j.finished || j.cancelled
	j.mu.Unlock()
	if stop {
		return
	}

	rate := j.speed.Calculate(current)
	sink := j.sink()
	if sink == nil {
		return
	}
	if !sink.SetProgress(current, total, rate) {
		return
	}
	if o := sink.Observer(); o != nil {
		o.OnProgress(current, total)
	}
}

// OnSuccess promotes the partial file. A failed rename takes the error path.
func (j *Job) OnSuccess() {
	j.deliver.Lock()
	defer j.deliver.Unlock()

	cancelled, ok := j.claim()
	if !ok {
		return
	}
	if cancelled {
		j.discard()
		return
	}

	partial, final := j.Paths()
	if err := utils.RenameFile(partial, final); err != nil {
		j.fail(err)
		return
	}
	j.succeed(describe(final))
}

func (j *Job) runFallback(ctx context.Context) {
	data, err := j.opts.Fallback(ctx, j.model)

	j.deliver.Lock()
	defer j.deliver.Unlock()

	cancelled, ok := j.claim()
	if !ok {
		return
	}
	if cancelled {
		j.close()
		return
	}
	if err != nil {
		j.fail(err)
		return
	}

	md, _ := j.model.Music().Metadata()
	res, err := WriteFile(j.opts.Root, j.opts.Kind, md, data)
	if err != nil {
		j.fail(err)
		return
	}
	j.succeed(res)
}

// succeed runs the success path. The caller must hold deliver and have
// claimed the terminal event.
func (j *Job) succeed(res Result) {
	j.log.Debug("Saved %s (%d bytes, %s)", res.Path, res.Size, res.MIME)

	if sink := j.sink(); sink != nil {
		sink.Finish(model.StateDone)
		if o := sink.Observer(); o != nil {
			o.OnSuccess()
		}
	}
	if j.opts.OnComplete != nil {
		j.opts.OnComplete(j.model, res)
	}
	j.close()
}

// OnError removes the partial file, moves the model to ERROR and reports err
// according to the job's error policy.
func (j *Job) OnError(err error) {
	j.deliver.Lock()
	defer j.deliver.Unlock()

	cancelled, ok := j.claim()
	if !ok {
		return
	}
	if cancelled {
		j.discard()
		return
	}
	j.fail(err)
}

// OnCancel is the transport's cancellation notice. The model is not changed;
// the partial file is removed.
func (j *Job) OnCancel() {
	j.deliver.Lock()
	defer j.deliver.Unlock()

	if _, ok := j.claim(); !ok {
		return
	}
	j.log.Debug("Transfer cancelled")
	j.discard()
}

// abort ends a job that never reached the transport.
func (j *Job) abort(err error) {
	j.deliver.Lock()
	defer j.deliver.Unlock()

	cancelled, ok := j.claim()
	if !ok {
		return
	}
	if cancelled || errors.Is(err, ErrCancelled) {
		j.close()
		return
	}
	j.fail(err)
}

// fail runs the error path. The caller must hold deliver and have claimed
// the terminal event.
func (j *Job) fail(err error) {
	partial, _ := j.Paths()
	if derr := utils.DeleteFile(partial); derr != nil {
		j.log.Debug("Could not remove partial file: %v", derr)
	}

	if sink := j.sink(); sink != nil {
		sink.Finish(model.StateError)
		if o := sink.Observer(); o != nil {
			o.OnError(err)
		}
	}

	switch j.opts.Errors {
	case PolicyBestEffort:
		j.log.Debug("Suppressed failure: %v", err)
		if j.opts.Suppressed != nil {
			j.opts.Suppressed(j.model, err)
		}
	default:
		j.log.Warn("Transfer of %s failed: %v", j.model.Music().SongID, err)
		if j.opts.OnError != nil {
			j.opts.OnError(j.model, err)
		}
	}
	j.close()
}

// claim marks the job finished. It reports false if it already was.
func (j *Job) claim() (cancelled, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished {
		return false, false
	}
	j.finished = true
	return j.cancelled, true
}

func (j *Job) discard() {
	partial, _ := j.Paths()
	_ = utils.DeleteFile(partial)
	j.close()
}

func (j *Job) finishQuietly() {
	if _, ok := j.claim(); ok {
		j.discard()
	}
}

func (j *Job) setResolving(v bool) {
	j.mu.Lock()
	j.resolving = v
	j.mu.Unlock()
}

func (j *Job) close() {
	j.doneOnce.Do(func() { close(j.done) })
}

func (j *Job) sink() model.ProgressSink {
	if !j.opts.Progress {
		return nil
	}
	return j.model.ProgressSink()
}

func describe(path string) Result {
	res := Result{Path: path}
	if info, err := os.Stat(path); err == nil {
		res.Size = info.Size()
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		res.MIME = mt.String()
	}
	return res
}
