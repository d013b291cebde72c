package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"musictransfer/internal/coordinator"
	"musictransfer/internal/model"
	"musictransfer/internal/speed"
	"musictransfer/internal/transfer"

	"github.com/go-playground/validator/v10"
)

const (
	KindSong  = "song"
	KindLyric = "lyric"
	KindMV    = "mv"
)

var validate = validator.New()

type TransferRequest struct {
	SongID    string `json:"song_id" validate:"required"`
	Kind      string `json:"kind" validate:"omitempty,oneof=song lyric mv"`
	WithLyric bool   `json:"with_lyric"`
	Cache     bool   `json:"cache"`
	// URL and Name are required for kind "mv".
	URL  string `json:"url" validate:"omitempty,url"`
	Name string `json:"name"`
}

type TransferResponse struct {
	ID          string         `json:"id"`
	SongID      string         `json:"song_id"`
	Kind        string         `json:"kind"`
	SongName    string         `json:"song_name,omitempty"`
	Status      TransferStatus `json:"status"`
	Current     int64          `json:"current"`
	Total       int64          `json:"total"`
	Info        string         `json:"info"`
	Speed       string         `json:"speed"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   string         `json:"created_at"`
	StartedAt   *string        `json:"started_at,omitempty"`
	CompletedAt *string        `json:"completed_at,omitempty"`
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTransfers(w, r)
	case http.MethodPost:
		s.handleCreateTransfer(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = KindSong
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Kind == KindMV && (req.URL == "" || req.Name == "") {
		http.Error(w, "url and name are required for mv", http.StatusBadRequest)
		return
	}

	m := model.NewTransferModel(req.SongID)
	if req.Kind == KindMV {
		m.Apply(model.Metadata{SongName: req.Name, SongURL: req.URL})
	}

	t := s.transfers.Create(Transfer{
		SongID:    req.SongID,
		Kind:      req.Kind,
		Key:       model.GenerateID(m),
		WithLyric: req.WithLyric,
		Cache:     req.Cache,
		SongName:  req.Name,
	})
	s.logger.Info("Created transfer %s for song %s (%s)", t.ID, req.SongID, req.Kind)

	if err := s.start(t, m, req); err != nil {
		s.transfers.Remove(t.ID)
		s.logger.Warn("Transfer %s not started: %v", t.ID, err)
		http.Error(w, err.Error(), startStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(toResponse(t))
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	list := s.transfers.List()
	responses := make([]*TransferResponse, len(list))
	for i, t := range list {
		responses[i] = toResponse(t)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

func (s *Server) handleTransferAction(w http.ResponseWriter, r *http.Request) {
	// /api/transfers/{id} or /api/transfers/{id}/cancel
	path := strings.TrimPrefix(r.URL.Path, "/api/transfers/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Transfer ID required", http.StatusBadRequest)
		return
	}

	id := parts[0]
	t, err := s.transfers.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 1 {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toResponse(t))
		return
	}

	if r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "cancel" {
		if t.Status.IsFinished() {
			http.Error(w, "transfer already finished", http.StatusConflict)
			return
		}

		s.coord.Cancel(t.Key)
		s.transfers.Update(id, func(t *Transfer) {
			t.Status = StatusCancelled
		})
		s.logger.Info("Cancelled transfer %s", id)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": string(StatusCancelled)})
		return
	}

	http.Error(w, "Invalid request", http.StatusBadRequest)
}

// start hands the transfer to the coordinator and wires its progress and
// callbacks into the record.
func (s *Server) start(t Transfer, m *model.TransferModel, req TransferRequest) error {
	m.SetObserver(model.ObserverFuncs{
		Progress: func(current, total int64) {
			snap := m.Snapshot()
			s.transfers.Update(t.ID, func(t *Transfer) {
				t.Status = StatusRunning
				t.Current = current
				t.Total = total
				t.Speed = snap.Speed
			})
		},
	})

	cb := coordinator.CallbackFuncs{
		First: func(m model.Song) {
			s.transfers.Update(t.ID, func(t *Transfer) {
				t.Status = StatusRunning
				t.SongName = m.Music().SongName()
			})
		},
		Second: func(m model.Song) {
			s.transfers.Update(t.ID, func(t *Transfer) {
				t.Status = StatusCompleted
				t.SongName = m.Music().SongName()
			})
			s.logger.Info("Transfer %s completed", t.ID)
		},
		Error: func(_ model.Song, err error) {
			s.transfers.Update(t.ID, func(t *Transfer) {
				t.Status = StatusFailed
				t.Error = err.Error()
			})
			s.logger.Error("Transfer %s failed: %v", t.ID, err)
		},
	}

	ctx := s.ctx
	switch req.Kind {
	case KindMV:
		return s.coord.DownloadMV(ctx, m, cb)
	case KindLyric:
		return s.coord.DownloadLyric(ctx, m, req.Cache, cb)
	}
	if req.Cache {
		return s.coord.DownloadCache(ctx, m, req.WithLyric, cb)
	}
	return s.coord.Download(ctx, m, req.WithLyric, cb)
}

func startStatus(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrTransferActive):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrMissingURL):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toResponse(t Transfer) *TransferResponse {
	resp := &TransferResponse{
		ID:        t.ID,
		SongID:    t.SongID,
		Kind:      t.Kind,
		SongName:  t.SongName,
		Status:    t.Status,
		Current:   t.Current,
		Total:     t.Total,
		Info:      speed.FormatInfo(t.Current, t.Total),
		Speed:     speed.FormatSpeed(t.Speed),
		Error:     t.Error,
		CreatedAt: t.CreatedAt.Format("2006-01-02 15:04:05"),
	}

	if t.StartedAt != nil {
		started := t.StartedAt.Format("2006-01-02 15:04:05")
		resp.StartedAt = &started
	}

	if t.CompletedAt != nil {
		completed := t.CompletedAt.Format("2006-01-02 15:04:05")
		resp.CompletedAt = &completed
	}

	return resp
}
