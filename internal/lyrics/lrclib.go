// Package lyrics fetches synced lyrics from LRCLib for songs the lookup
// service has no lyric link for.
package lyrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"musictransfer/internal/transport"
)

type Result struct {
	Synced string // LRC format with timestamps, empty if unavailable
	Plain  string // plain text lyrics, empty if unavailable
}

// LRC returns the best text to store in a .lrc file, preferring synced
// lyrics. Empty if LRCLib had nothing.
func (r Result) LRC() string {
	if r.Synced != "" {
		return r.Synced
	}
	return r.Plain
}

// JSONGetter is the part of the transport the client needs.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error
}

type Client struct {
	getter JSONGetter
	apiURL string
}

func NewClient(getter JSONGetter) *Client {
	return &Client{
		getter: getter,
		apiURL: "https://lrclib.net/api/get",
	}
}

// Fetch retrieves lyrics for the given track from LRCLib.
// Returns empty Result (no error) when lyrics are not found.
// Title and artist are cleaned of video-style decorations first.
func (c *Client) Fetch(ctx context.Context, artist, title, album string) (Result, error) {
	title, artist = CleanQuery(title, artist)
	if title == "" {
		return Result{}, nil
	}

	params := url.Values{}
	params.Set("artist_name", artist)
	params.Set("track_name", title)
	params.Set("album_name", album)

	var apiResp apiResponse
	if err := c.getter.GetJSON(ctx, c.apiURL, params, &apiResp); err != nil {
		var statusErr *transport.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("lrclib request failed: %w", err)
	}

	return Result{
		Synced: apiResp.SyncedLyrics,
		Plain:  apiResp.PlainLyrics,
	}, nil
}

type apiResponse struct {
	SyncedLyrics string `json:"syncedLyrics"`
	PlainLyrics  string `json:"plainLyrics"`
}

var (
	decoration = regexp.MustCompile(`(?i)\s*[\(\[]\s*(official\s+(music\s+|lyric\s+)?(video|audio|visualizer)|lyrics?|visual(izer)?|audio|hd|hq|4k|explicit|clean)\s*[\)\]]`)
	featuring  = regexp.MustCompile(`(?i)\s*[\(\[]\s*(feat\.?|ft\.?|featuring)\s+[^\)\]]+[\)\]]`)
	vevo       = regexp.MustCompile(`(?i)vevo$`)
	separator  = regexp.MustCompile(`^(.+?)\s*[-–—]\s*(.+)$`)
)

// CleanQuery strips suffixes such as "(Official Video)" and "(feat. X)" from
// title and "VEVO" from artist. With no artist, an "Artist - Title" title is
// split in two.
func CleanQuery(title, artist string) (string, string) {
	artist = strings.TrimSpace(vevo.ReplaceAllString(strings.TrimSpace(artist), ""))
	title = strings.TrimSpace(title)
	if title == "" {
		return "", artist
	}

	title = decoration.ReplaceAllString(title, "")
	title = featuring.ReplaceAllString(title, "")

	if artist == "" {
		if m := separator.FindStringSubmatch(title); m != nil {
			artist = strings.TrimSpace(m[1])
			title = m[2]
		}
	}
	return strings.TrimSpace(title), artist
}
