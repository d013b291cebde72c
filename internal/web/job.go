package web

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// TransferStatus represents the current status of a transfer record
type TransferStatus string

const (
	StatusPending   TransferStatus = "pending"
	StatusRunning   TransferStatus = "running"
	StatusCompleted TransferStatus = "completed"
	StatusFailed    TransferStatus = "failed"
	StatusCancelled TransferStatus = "cancelled"
)

// IsFinished reports whether no further updates will follow.
func (s TransferStatus) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Transfer is the web view of one coordinated transfer.
type Transfer struct {
	ID     string
	SongID string
	Kind   string
	// Key is the coordinator id used for cancellation.
	Key         string
	WithLyric   bool
	Cache       bool
	SongName    string
	Status      TransferStatus
	Current     int64
	Total       int64
	Speed       float64
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// TransferManager keeps transfer records and fans updates out to
// subscribers. Records are handed out as copies.
type TransferManager struct {
	transfers map[string]*Transfer
	mu        sync.RWMutex
	listeners map[string][]chan Transfer
}

const transferRetention = 1 * time.Hour

// NewTransferManager creates a new transfer manager
func NewTransferManager() *TransferManager {
	return &TransferManager{
		transfers: make(map[string]*Transfer),
		listeners: make(map[string][]chan Transfer),
	}
}

// StartCleanup starts a background goroutine that removes old finished
// records. Stops when ctx is cancelled.
func (tm *TransferManager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tm.cleanup()
			}
		}
	}()
}

func (tm *TransferManager) cleanup() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	cutoff := time.Now().Add(-transferRetention)
	for id, t := range tm.transfers {
		if t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(tm.transfers, id)
			for _, ch := range tm.listeners[id] {
				close(ch)
			}
			delete(tm.listeners, id)
		}
	}
}

// Create registers a pending record built from t and returns it with its
// new id.
func (tm *TransferManager) Create(t Transfer) Transfer {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	t.ID = uuid.NewString()
	t.Status = StatusPending
	t.CreatedAt = time.Now()
	tm.transfers[t.ID] = &t
	return t
}

// Remove drops a record, e.g. one that could not be started.
func (tm *TransferManager) Remove(id string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.transfers, id)
}

// Get retrieves a record by ID
func (tm *TransferManager) Get(id string) (Transfer, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	t, ok := tm.transfers[id]
	if !ok {
		return Transfer{}, fmt.Errorf("transfer not found: %s", id)
	}
	return *t, nil
}

// List returns all records, oldest first.
func (tm *TransferManager) List() []Transfer {
	tm.mu.RLock()
	list := lo.MapToSlice(tm.transfers, func(_ string, t *Transfer) Transfer { return *t })
	tm.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Update applies fn to a record and notifies subscribers. Finished records
// are not changed any more.
func (tm *TransferManager) Update(id string, fn func(*Transfer)) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	t, ok := tm.transfers[id]
	if !ok {
		return fmt.Errorf("transfer not found: %s", id)
	}
	if t.Status.IsFinished() {
		return nil
	}

	oldStatus := t.Status
	fn(t)

	if oldStatus != t.Status {
		now := time.Now()
		switch {
		case t.Status == StatusRunning:
			if t.StartedAt == nil {
				t.StartedAt = &now
			}
		case t.Status.IsFinished():
			if t.CompletedAt == nil {
				t.CompletedAt = &now
			}
		}
	}

	tm.notifyListeners(id, *t)
	return nil
}

// Subscribe subscribes to record updates
func (tm *TransferManager) Subscribe(id string) <-chan Transfer {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	ch := make(chan Transfer, 10)
	tm.listeners[id] = append(tm.listeners[id], ch)
	return ch
}

// Unsubscribe removes a listener
func (tm *TransferManager) Unsubscribe(id string, ch <-chan Transfer) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	listeners := tm.listeners[id]
	for i, listener := range listeners {
		if listener == ch {
			tm.listeners[id] = append(listeners[:i], listeners[i+1:]...)
			close(listener)
			break
		}
	}
}

// notifyListeners sends updates to all listeners. Progress updates are
// dropped for slow listeners; the final one is always delivered.
func (tm *TransferManager) notifyListeners(id string, t Transfer) {
	for _, ch := range tm.listeners[id] {
		if t.Status.IsFinished() {
			select {
			case <-ch:
			default:
			}
		}
		select {
		case ch <- t:
		default:
		}
	}
}
