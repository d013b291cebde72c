// Package pipeline runs a batch of song transfers through a coordinator with
// a bounded number of parallel jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"musictransfer/internal/coordinator"
	"musictransfer/internal/logger"
	"musictransfer/internal/model"
)

// ErrNoSongs is returned when Run is given an empty batch.
var ErrNoSongs = errors.New("no songs to transfer")

// Starter is the part of the coordinator a batch needs.
type Starter interface {
	Download(ctx context.Context, m model.Song, withLyric bool, cb coordinator.Callback) error
	DownloadCache(ctx context.Context, m model.Song, withLyric bool, cb coordinator.Callback) error
	DownloadLyric(ctx context.Context, m model.Song, cache bool, cb coordinator.Callback) error
}

// Mode selects what a batch transfers for every song.
type Mode int

const (
	ModeSong Mode = iota
	ModeSongWithLyric
	ModeLyricOnly
)

type Options struct {
	Mode     Mode
	Cache    bool
	Parallel int
}

type Hooks struct {
	// OnModel is called before a model is started, e.g. to attach an
	// observer.
	OnModel    func(m *model.TransferModel)
	OnProgress func(o Outcome)
	OnWarning  func(msg string)
}

// Outcome is the result of one song of a batch.
type Outcome struct {
	SongID   string
	SongName string
	State    model.TransferState
	Err      error
}

type Stats struct {
	Total      int
	Successful int
	Failed     int
	Outcomes   []Outcome
}

// Run transfers ids and waits for every one of them. It fails only when
// nothing could be transferred or ctx was cancelled; individual failures
// are in the returned Stats.
func Run(ctx context.Context, s Starter, ids []string, opts Options, log *logger.Logger, hooks Hooks) (Stats, error) {
	stats := Stats{Total: len(ids)}
	if len(ids) == 0 {
		return stats, ErrNoSongs
	}
	if log == nil {
		log = logger.Discard()
	}
	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}

	log.Info("=== Starting transfer (%d songs, %d parallel) ===", len(ids), parallel)

	outcomes := make([]Outcome, len(ids))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, parallel)

loop:
	for i, id := range ids {
		select {
		case <-ctx.Done():
			log.Warn("Transfers cancelled, waiting for active transfers to finish...")
			for j := i; j < len(ids); j++ {
				outcomes[j] = Outcome{SongID: ids[j], Err: ctx.Err()}
			}
			break loop
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int, songID string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			log.Debug("Transferring [%d/%d]: %s", idx+1, len(ids), songID)
			o := transferOne(ctx, s, songID, opts, hooks)
			if o.Err != nil && ctx.Err() == nil {
				log.Debug("Transfer error %s: %v", songID, o.Err)
			}
			outcomes[idx] = o

			if hooks.OnProgress != nil {
				hooks.OnProgress(o)
			}
		}(i, id)
	}

	wg.Wait()

	stats.Outcomes = outcomes
	for _, o := range outcomes {
		if o.Err != nil {
			stats.Failed++
		}
	}
	stats.Successful = stats.Total - stats.Failed

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("transfers cancelled: %w", err)
	}
	if stats.Failed > 0 {
		msg := fmt.Sprintf("%d of %d songs could not be transferred", stats.Failed, stats.Total)
		log.Warn(msg)
		if hooks.OnWarning != nil {
			hooks.OnWarning(msg)
		}
		if stats.Failed == stats.Total {
			return stats, fmt.Errorf("all %d songs failed to transfer", stats.Total)
		}
	}

	log.Info("Transfer completed: %d successful, %d failed", stats.Successful, stats.Failed)
	return stats, nil
}

// transferOne starts one song and blocks until its callback fires or ctx
// ends. A cancelled transfer never calls back, so ctx is watched too.
func transferOne(ctx context.Context, s Starter, songID string, opts Options, hooks Hooks) Outcome {
	m := model.NewTransferModel(songID)
	if hooks.OnModel != nil {
		hooks.OnModel(m)
	}

	result := make(chan error, 1)
	cb := coordinator.CallbackFuncs{
		Second: func(model.Song) { result <- nil },
		Error:  func(_ model.Song, err error) { result <- err },
	}

	var err error
	switch opts.Mode {
	case ModeLyricOnly:
		err = s.DownloadLyric(ctx, m, opts.Cache, cb)
	case ModeSongWithLyric:
		err = start(ctx, s, m, true, opts.Cache, cb)
	default:
		err = start(ctx, s, m, false, opts.Cache, cb)
	}
	if err == nil {
		select {
		case err = <-result:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	return Outcome{
		SongID:   songID,
		SongName: m.SongName(),
		State:    m.State(),
		Err:      err,
	}
}

func start(ctx context.Context, s Starter, m model.Song, withLyric, cache bool, cb coordinator.Callback) error {
	if cache {
		return s.DownloadCache(ctx, m, withLyric, cb)
	}
	return s.Download(ctx, m, withLyric, cb)
}
