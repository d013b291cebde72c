package coordinator

import (
	"musictransfer/internal/config"
	"musictransfer/internal/logger"
	"musictransfer/internal/lookup"
	"musictransfer/internal/lyrics"
	"musictransfer/internal/metadata"
	"musictransfer/internal/transport"
)

// FromConfig builds a Coordinator with the HTTP transport, lookup client and
// optional lyrics fallback described by cfg.
func FromConfig(cfg config.Config, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}

	topts := []transport.Option{
		transport.WithPolicy(Policy(cfg.Transfer)),
		transport.WithLogger(log),
	}
	if cfg.UserAgent != "" {
		topts = append(topts, transport.WithUserAgent(cfg.UserAgent))
	}
	tc := transport.New(topts...)
	resolver := metadata.NewResolver(lookup.New(tc, cfg.LookupURL, cfg.LookupMethod), cfg.Paths.Song, log)

	options := []Option{WithLogger(log), WithArtwork(tc)}
	if cfg.LyricsFallback {
		options = append(options, WithLyricsFallback(lyrics.NewClient(tc)))
	}
	return New(cfg, tc, resolver, options...)
}
