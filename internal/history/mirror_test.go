package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/outrider-term/outrider/internal/storage"
)

func TestMirrorStampSuppressesRecopy(t *testing.T) {
	s := newTestStore(t, Options{})
	path := filepath.Join(t.TempDir(), "rollout-stamp.jsonl")
	writeTranscript(t, path, userEvent("original"))

	s.mirrorFrom("m", path)
	mirrorPath := mustPath(t, storage.MirrorFilePath("m"))
	if _, err := os.Stat(mirrorPath); err != nil {
		t.Fatalf("mirror not written: %v", err)
	}

	// Scribble over the mirror. With an unchanged source the stamp says the
	// mirror is current, so the scribble must survive.
	if err := os.WriteFile(mirrorPath, []byte("scribble"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.mirrorFrom("m", path)
	data, err := os.ReadFile(mirrorPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "scribble" {
		t.Fatalf("mirror recopied despite fresh stamp: %q", data)
	}

	// Growing the source invalidates the stamp.
	writeTranscript(t, path, userEvent("original"), userEvent("appended"))
	s.mirrorFrom("m", path)
	data, err = os.ReadFile(mirrorPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "appended") {
		t.Fatalf("mirror not refreshed after source change: %q", data)
	}
}

func TestMirrorKeeperRefreshesOnChange(t *testing.T) {
	s := newTestStore(t, Options{WatchTranscript: true})
	if s.keeper == nil {
		t.Skip("filesystem watcher unavailable")
	}
	path := filepath.Join(t.TempDir(), "rollout-watched.jsonl")
	writeTranscript(t, path, userEvent("first"))
	s.Seed(params{SessionID: "w", SessionPath: path})

	writeTranscript(t, path, userEvent("first"), userEvent("second"))

	mirrorPath := mustPath(t, storage.MirrorFilePath("w"))
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(mirrorPath)
		if err == nil && strings.Contains(string(data), "second") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("mirror never caught up: %q (read error %v)", data, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMirrorKeeperWatchReplacesPath(t *testing.T) {
	s := newTestStore(t, Options{})
	k := newMirrorKeeper(s)
	if k == nil {
		t.Skip("filesystem watcher unavailable")
	}
	defer k.Close()

	dir := t.TempDir()
	p1 := filepath.Join(dir, "one.jsonl")
	p2 := filepath.Join(dir, "two.jsonl")
	writeTranscript(t, p1, userEvent("one"))
	writeTranscript(t, p2, userEvent("two"))

	k.Watch("w", p1)
	k.Watch("w", p2)

	k.mu.Lock()
	_, hasOld := k.sessions[p1]
	id, hasNew := k.sessions[p2]
	k.mu.Unlock()
	if hasOld {
		t.Error("stale path still tracked")
	}
	if !hasNew || id != "w" {
		t.Errorf("new path tracked as %q, %v", id, hasNew)
	}
}

func TestMirrorKeeperCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t, Options{})
	k := newMirrorKeeper(s)
	if k == nil {
		t.Skip("filesystem watcher unavailable")
	}
	k.Close()
	k.Close()
}
