package web

import (
	"context"
	"embed"
	"io/fs"
	"net/http"

	"musictransfer/internal/coordinator"
	"musictransfer/internal/logger"
	"musictransfer/internal/model"
)

//go:embed static
var staticFiles embed.FS

// Coordinator is the transfer API the server drives.
type Coordinator interface {
	Download(ctx context.Context, m model.Song, withLyric bool, cb coordinator.Callback) error
	DownloadCache(ctx context.Context, m model.Song, withLyric bool, cb coordinator.Callback) error
	DownloadMV(ctx context.Context, m model.Song, cb coordinator.Callback) error
	DownloadLyric(ctx context.Context, m model.Song, cache bool, cb coordinator.Callback) error
	Cancel(id string) bool
}

type Server struct {
	ctx       context.Context
	transfers *TransferManager
	coord     Coordinator
	logger    *logger.Logger
}

// NewServer creates a server whose transfers run under ctx.
func NewServer(ctx context.Context, transfers *TransferManager, coord Coordinator, log *logger.Logger) *Server {
	return &Server{
		ctx:       ctx,
		transfers: transfers,
		coord:     coord,
		logger:    log,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	static, _ := fs.Sub(staticFiles, "static")
	mux.Handle("/", http.FileServer(http.FS(static)))

	mux.HandleFunc("/api/transfers", s.handleTransfers)
	mux.HandleFunc("/api/transfers/", s.handleTransferAction)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return s.loggingMiddleware(mux)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
