package model

import (
	"errors"
	"testing"
)

func TestMusicModelHasNoProgressSink(t *testing.T) {
	var s Song = NewMusicModel("1")
	if s.ProgressSink() != nil {
		t.Error("MusicModel should not expose a progress sink")
	}
}

func TestTransferModelIsItsOwnSink(t *testing.T) {
	m := NewTransferModel("1")
	var s Song = m
	if s.ProgressSink() == nil {
		t.Fatal("TransferModel should expose a progress sink")
	}
	if s.Music() != &m.MusicModel {
		t.Error("Music() should return the embedded MusicModel")
	}
}

func TestApplyIsAllOrNothing(t *testing.T) {
	m := NewMusicModel("42")
	if _, ok := m.Metadata(); ok {
		t.Fatal("fresh model should be unresolved")
	}

	m.Apply(Metadata{SongName: "Foo", SongURL: "http://x/f.mp3", FilePostfix: "mp3"})

	md, ok := m.Metadata()
	if !ok {
		t.Fatal("model should be resolved after Apply")
	}
	if md.SongName != "Foo" || md.SongURL != "http://x/f.mp3" || md.FilePostfix != "mp3" {
		t.Errorf("unexpected metadata %+v", md)
	}
	if m.SongName() != "Foo" {
		t.Errorf("SongName() = %q, want Foo", m.SongName())
	}
}

func TestStateMachineIsForwardOnly(t *testing.T) {
	m := NewTransferModel("1")
	if got := m.State(); got != StateIdle {
		t.Fatalf("initial state = %s, want idle", got)
	}

	if !m.SetProgress(10, 100, 5) {
		t.Fatal("SetProgress should be accepted before a terminal state")
	}
	snap := m.Snapshot()
	if snap.State != StateProgress || snap.CurrentLength != 10 || snap.TotalLength != 100 || snap.Speed != 5 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	m.Finish(StateDone)
	if m.SetProgress(20, 100, 5) {
		t.Error("SetProgress should be rejected after DONE")
	}
	m.Finish(StateError)
	if got := m.State(); got != StateDone {
		t.Errorf("state = %s, terminal state must not change", got)
	}
	if m.Snapshot().CurrentLength != 10 {
		t.Error("counters must not change after a terminal state")
	}

	m.Reset()
	if got := m.State(); got != StateIdle {
		t.Errorf("state after Reset = %s, want idle", got)
	}
}

func TestTransferStateStrings(t *testing.T) {
	tests := map[TransferState]string{
		StateIdle:         "idle",
		StateProgress:     "progress",
		StateDone:         "done",
		StateError:        "error",
		TransferState(99): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

func TestGenerateIDIsDeterministic(t *testing.T) {
	a := NewTransferModel("12345")
	b := NewMusicModel("12345")
	if GenerateID(a) != GenerateID(b) {
		t.Errorf("ids differ for the same song: %q vs %q", GenerateID(a), GenerateID(b))
	}
	if GenerateID(a) == GenerateID(NewMusicModel("54321")) {
		t.Error("different songs must not share an id")
	}
}

func TestObserverFuncs(t *testing.T) {
	var progress, success, failed int
	o := ObserverFuncs{
		Progress: func(int64, int64) { progress++ },
		Success:  func() { success++ },
		Error:    func(error) { failed++ },
	}
	o.OnProgress(1, 2)
	o.OnSuccess()
	o.OnError(errors.New("boom"))

	if progress != 1 || success != 1 || failed != 1 {
		t.Errorf("got progress=%d success=%d error=%d", progress, success, failed)
	}

	// Nil fields are no-ops.
	ObserverFuncs{}.OnProgress(1, 2)
	ObserverFuncs{}.OnSuccess()
	ObserverFuncs{}.OnError(nil)
}
