package model

import "sync"

// TransferState is the forward-only lifecycle of a progress-bearing transfer.
type TransferState int

const (
	StateIdle TransferState = iota
	StateProgress
	StateDone
	StateError
)

func (s TransferState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProgress:
		return "progress"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for DONE and ERROR.
func (s TransferState) IsTerminal() bool {
	return s == StateDone || s == StateError
}

// Observer receives live updates for a single model, typically a UI binding.
type Observer interface {
	OnProgress(current, total int64)
	OnSuccess()
	OnError(err error)
}

// ProgressSink is the capability a transfer job writes progress into.
type ProgressSink interface {
	// SetProgress moves the state to PROGRESS unless it is terminal and
	// stores the counters. It reports false once the state is terminal.
	SetProgress(current, total int64, speed float64) bool
	// Finish moves the state to DONE or ERROR.
	Finish(state TransferState)
	// Reset returns the state to IDLE and clears the counters.
	Reset()
	Observer() Observer
}

// TransferModel is a MusicModel that tracks byte-level progress.
type TransferModel struct {
	MusicModel

	mu            sync.RWMutex
	state         TransferState
	currentLength int64
	totalLength   int64
	speed         float64
	observer      Observer
}

// Snapshot is a consistent copy of a TransferModel's progress fields.
type Snapshot struct {
	State         TransferState
	CurrentLength int64
	TotalLength   int64
	Speed         float64
}

// NewTransferModel creates an idle transfer model for songID.
func NewTransferModel(songID string) *TransferModel {
	return &TransferModel{MusicModel: MusicModel{SongID: songID}}
}

func (t *TransferModel) ProgressSink() ProgressSink { return t }

// SetObserver attaches (or with nil, detaches) the live observer.
func (t *TransferModel) SetObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = o
}

func (t *TransferModel) Observer() Observer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.observer
}

func (t *TransferModel) SetProgress(current, total int64, speed float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return false
	}
	t.state = StateProgress
	t.currentLength = current
	t.totalLength = total
	t.speed = speed
	return true
}

func (t *TransferModel) Finish(state TransferState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return
	}
	t.state = state
}

// Reset returns the model to IDLE. A new progress-bearing job calls it
// before its first tick.
func (t *TransferModel) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateIdle
	t.currentLength = 0
	t.totalLength = 0
	t.speed = 0
}

func (t *TransferModel) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		State:         t.state,
		CurrentLength: t.currentLength,
		TotalLength:   t.totalLength,
		Speed:         t.speed,
	}
}

func (t *TransferModel) State() TransferState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// GenerateID returns the tag used to locate and cancel a model's transfer.
// It depends only on the song id, so every kind of transfer for one model
// shares it.
func GenerateID(s Song) string {
	return "transfer_" + s.Music().SongID
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(current, total int64)
	Success  func()
	Error    func(err error)
}

func (o ObserverFuncs) OnProgress(current, total int64) {
	if o.Progress != nil {
		o.Progress(current, total)
	}
}

func (o ObserverFuncs) OnSuccess() {
	if o.Success != nil {
		o.Success()
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}
