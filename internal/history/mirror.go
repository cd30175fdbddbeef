package history

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	cache "github.com/patrickmn/go-cache"

	"github.com/outrider-term/outrider/internal/storage"
)

// stamp records the observed shape of a transcript file. A matching stamp
// means the mirror is already current and the copy can be skipped.
type stamp struct {
	size  int64
	mtime time.Time
}

// mirrorBytes writes data as the session's transcript mirror and records
// the source's stamp. Best-effort.
func (s *Store) mirrorBytes(id, srcPath string, data []byte) {
	path := bestPath(storage.MirrorFilePath(id))
	if path == "" {
		return
	}
	if err := storage.AtomicWriteFile(path, data, 0o644); err != nil {
		slog.Warn("[history] failed to write mirror", "session", id, "error", err)
		return
	}
	if info, err := os.Stat(srcPath); err == nil {
		s.fresh.Set(srcPath, stamp{size: info.Size(), mtime: info.ModTime()}, cache.DefaultExpiration)
	}
}

// refreshMirror re-mirrors the session's last known transcript when it has
// changed since the previous copy.
func (s *Store) refreshMirror(id string) {
	if path := lastTranscriptPath(); path != "" {
		s.mirrorFrom(id, path)
	}
}

func (s *Store) mirrorFrom(id, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if v, ok := s.fresh.Get(path); ok {
		if st, ok := v.(stamp); ok && st.size == info.Size() && st.mtime.Equal(info.ModTime()) {
			return
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	s.mirrorBytes(id, path, data)
}

// mirrorKeeper watches transcript files and refreshes their session
// mirrors as the host appends. It is an optimization only: every failure
// degrades silently to on-demand mirroring.
type mirrorKeeper struct {
	store   *Store
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	sessions map[string]string // transcript path -> session id

	closeOnce sync.Once
	done      chan struct{}
}

// newMirrorKeeper starts the watcher goroutine, returning nil when the
// platform cannot provide one.
func newMirrorKeeper(store *Store) *mirrorKeeper {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("[history] transcript watcher unavailable", "error", err)
		return nil
	}
	k := &mirrorKeeper{
		store:    store,
		watcher:  watcher,
		sessions: make(map[string]string),
		done:     make(chan struct{}),
	}
	go k.run()
	return k
}

func (k *mirrorKeeper) run() {
	for {
		select {
		case ev, ok := <-k.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			k.mu.Lock()
			id, watched := k.sessions[ev.Name]
			k.mu.Unlock()
			if watched {
				k.store.mirrorFrom(id, ev.Name)
			}
		case err, ok := <-k.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("[history] transcript watcher error", "error", err)
		case <-k.done:
			return
		}
	}
}

// Watch points the keeper at a session's transcript, replacing any path
// previously watched for that session.
func (k *mirrorKeeper) Watch(id, path string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for p, sid := range k.sessions {
		if sid == id && p != path {
			delete(k.sessions, p)
			_ = k.watcher.Remove(p)
		}
	}
	if _, ok := k.sessions[path]; ok {
		k.sessions[path] = id
		return
	}
	if err := k.watcher.Add(path); err != nil {
		return
	}
	k.sessions[path] = id
}

func (k *mirrorKeeper) Close() {
	k.closeOnce.Do(func() {
		close(k.done)
		_ = k.watcher.Close()
	})
}
