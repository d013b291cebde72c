package shutdown

import (
	"os"
	"path/filepath"
	"testing"

	"musictransfer/internal/logger"
)

func TestShutdownRunsCleanupOnce(t *testing.T) {
	h := New()
	calls := 0
	h.AddCleanup(func() { calls++ })

	h.Shutdown()
	h.Shutdown()

	if calls != 1 {
		t.Errorf("cleanup ran %d times, want 1", calls)
	}
	if h.Context().Err() == nil {
		t.Error("context should be cancelled after Shutdown")
	}
}

func TestRemovePartials(t *testing.T) {
	song := t.TempDir()
	lyric := t.TempDir()

	files := map[string]bool{
		filepath.Join(song, "Foo.mp3.download"):  true,
		filepath.Join(song, "Bar.mp3"):           false,
		filepath.Join(lyric, "Foo.lrc.download"): true,
	}
	for path := range files {
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	n := RemovePartials(logger.Discard(), ".download", song, lyric, filepath.Join(song, "missing"))
	if n != 2 {
		t.Errorf("removed %d files, want 2", n)
	}
	for path, partial := range files {
		_, err := os.Stat(path)
		if partial && !os.IsNotExist(err) {
			t.Errorf("%s should be removed", path)
		}
		if !partial && err != nil {
			t.Errorf("%s should be kept: %v", path, err)
		}
	}
}
