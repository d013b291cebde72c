package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"musictransfer/internal/transport"
)

func TestSong(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ting", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("method") != "baidu.ting.song.getInfos" {
			t.Errorf("method = %q", q.Get("method"))
		}
		if q.Get("songIds") != "12345" {
			t.Errorf("songIds = %q", q.Get("songIds"))
		}
		w.Write([]byte(`{"data":{"songList":[{
			"songName":"Foo","songLink":"http://h/foo.mp3","artistId":"7","artistName":"Bar",
			"albumId":42,"albumName":"Baz","songPicSmall":"http://h/p.jpg","lrcLink":"http://h/foo.lrc",
			"format":"mp3"}]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(transport.New(), srv.URL+"/ting", "baidu.ting.song.getInfos")
	entries, err := c.Song(context.Background(), "12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.SongName != "Foo" {
		t.Errorf("SongName = %q, want Foo", e.SongName)
	}
	if e.AlbumID != "42" {
		t.Errorf("AlbumID = %q, want 42", e.AlbumID)
	}
	if e.ArtistID != "7" {
		t.Errorf("ArtistID = %q, want 7", e.ArtistID)
	}
	if e.LrcLink != "http://h/foo.lrc" {
		t.Errorf("LrcLink = %q", e.LrcLink)
	}
	if e.Format != "mp3" {
		t.Errorf("Format = %q", e.Format)
	}
}

func TestSongEmpty(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty list", `{"data":{"songList":[]}}`},
		{"no data", `{}`},
		{"null data", `{"data":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			entries, err := New(transport.New(), srv.URL, "m").Song(context.Background(), "1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("expected no entries, got %d", len(entries))
			}
		})
	}
}

func TestSongStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(transport.New(), srv.URL, "m").Song(context.Background(), "1")
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want a wrapped StatusError", err)
	}
	if statusErr.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want 404", statusErr.Code)
	}
}

func TestTextUnmarshal(t *testing.T) {
	tests := []struct {
		input string
		want  Text
	}{
		{`"abc"`, "abc"},
		{`123`, "123"},
		{`1234567890123`, "1234567890123"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var got Text
		if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
			t.Errorf("Unmarshal(%s) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.input, got, tt.want)
		}
	}

	var bad Text
	if err := json.Unmarshal([]byte(`{"x":1}`), &bad); err == nil {
		t.Error("expected an error for an object")
	}
}
