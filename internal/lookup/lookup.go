// Package lookup is a client for the song information service.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// JSONGetter is the part of the transport the client needs.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error
}

// Client queries the lookup service.
type Client struct {
	getter  JSONGetter
	baseURL string
	method  string
}

// New creates a lookup client for baseURL using the given method name.
func New(getter JSONGetter, baseURL, method string) *Client {
	return &Client{getter: getter, baseURL: baseURL, method: method}
}

// Song fetches the song list for songID. The service answers with an empty
// list (or no data at all) for unknown ids.
func (c *Client) Song(ctx context.Context, songID string) ([]Entry, error) {
	params := url.Values{}
	params.Set("method", c.method)
	params.Set("songIds", songID)

	var resp response
	if err := c.getter.GetJSON(ctx, c.baseURL, params, &resp); err != nil {
		return nil, fmt.Errorf("lookup of song %s failed: %w", songID, err)
	}
	if resp.Data == nil {
		return nil, nil
	}
	return resp.Data.SongList, nil
}

// Lookup API response types

type response struct {
	Data *data `json:"data"`
}

type data struct {
	SongList []Entry `json:"songList"`
}

// Entry is one song in a lookup response.
type Entry struct {
	SongName     string `json:"songName"`
	SongLink     string `json:"songLink"`
	ArtistID     Text   `json:"artistId"`
	ArtistName   string `json:"artistName"`
	AlbumID      Text   `json:"albumId"`
	AlbumName    string `json:"albumName"`
	SongPicSmall string `json:"songPicSmall"`
	LrcLink      string `json:"lrcLink"`
	Format       string `json:"format"`
}

// Text decodes a JSON string or number into its textual form.
// Ids come back as either depending on the endpoint.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", b)
	}
	*t = Text(n.String())
	return nil
}

func (t Text) String() string { return string(t) }
