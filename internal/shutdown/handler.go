package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"musictransfer/internal/logger"
	"musictransfer/pkg/utils"
)

// Handler manages graceful shutdown
type Handler struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	cleanupFns []func()
	mu         sync.Mutex
	once       sync.Once
}

// New creates a new shutdown handler
func New() *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the shutdown context
func (h *Handler) Context() context.Context {
	return h.ctx
}

// AddCleanup registers a cleanup function to be called on shutdown
func (h *Handler) AddCleanup(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupFns = append(h.cleanupFns, fn)
}

// Listen starts listening for shutdown signals
func (h *Handler) Listen() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			h.Shutdown()
		case <-h.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown cancels the context and runs the cleanup functions once, in
// registration order.
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		h.cancel()

		h.mu.Lock()
		fns := h.cleanupFns
		h.mu.Unlock()

		for _, fn := range fns {
			fn()
		}
	})
}

// Wait waits for all work to complete
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Add increments the work counter
func (h *Handler) Add(delta int) {
	h.wg.Add(delta)
}

// Done decrements the work counter
func (h *Handler) Done() {
	h.wg.Done()
}

// RemovePartials deletes files ending in suffix left in dirs by interrupted
// transfers and returns how many were removed.
func RemovePartials(log *logger.Logger, suffix string, dirs ...string) int {
	removed := 0
	for _, dir := range dirs {
		files, err := utils.FindPartialFiles(dir, suffix)
		if err != nil {
			log.Warn("Could not scan %s: %v", dir, err)
			continue
		}
		for _, f := range files {
			if err := utils.DeleteFile(f); err != nil {
				log.Warn("Could not remove %s: %v", f, err)
				continue
			}
			log.Debug("Removed partial file %s", f)
			removed++
		}
	}
	return removed
}
