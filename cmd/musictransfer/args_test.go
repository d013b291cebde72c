package main

import (
	"strings"
	"testing"

	"musictransfer/internal/pipeline"
)

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-l", "--cache", "-p", "2", "-v", "12345", "67890"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.mode != pipeline.ModeSongWithLyric {
		t.Errorf("mode = %v, want song with lyric", opts.mode)
	}
	if !opts.cache {
		t.Error("cache should be set")
	}
	if opts.cfg.ParallelJobs != 2 {
		t.Errorf("ParallelJobs = %d, want 2", opts.cfg.ParallelJobs)
	}
	if !opts.cfg.Verbose {
		t.Error("verbose should be set")
	}
	if strings.Join(opts.songIDs, ",") != "12345,67890" {
		t.Errorf("songIDs = %v", opts.songIDs)
	}
}

func TestParseArgsMV(t *testing.T) {
	opts, err := parseArgs([]string{"--mv", "http://x/v.mp4", "--name", "Clip", "9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.mvURL != "http://x/v.mp4" || opts.mvName != "Clip" {
		t.Errorf("mv = %q %q", opts.mvURL, opts.mvName)
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no ids", []string{"-l"}, "at least one song id"},
		{"unknown flag", []string{"--nope", "1"}, "unknown flag"},
		{"parallel missing", []string{"1", "-p"}, "requires a number"},
		{"parallel invalid", []string{"-p", "many", "1"}, "invalid parallel"},
		{"mv without name", []string{"--mv", "http://x/v.mp4", "1"}, "requires --name"},
		{"mv with two ids", []string{"--mv", "http://x/v.mp4", "--name", "Clip", "1", "2"}, "exactly one"},
		{"config missing path", []string{"1", "-c"}, "requires a path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}
