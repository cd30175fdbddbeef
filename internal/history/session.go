package history

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/outrider-term/outrider/internal/storage"
)

// DefaultSessionID names the session used when nothing else identifies one.
const DefaultSessionID = "default"

// resolveSessionID applies the resolution precedence: explicit id, then the
// transcript path's basename with its .jsonl suffix stripped, then the
// remembered current session, then the fixed default.
//
// Every candidate is reduced to a plain file basename first. Session ids
// become file names under the history directory, so a separator or dot-dot
// in one must not let a request walk out of it.
func resolveSessionID(p params) string {
	if p.SessionID != "" {
		if id := filepath.Base(p.SessionID); plainName(id) {
			return id
		}
		slog.Warn("[history] ignoring unusable session id", "id", p.SessionID)
	}
	if p.SessionPath != "" {
		base := filepath.Base(p.SessionPath)
		if id := strings.TrimSuffix(base, ".jsonl"); plainName(id) {
			return id
		}
	}
	if id := currentSession(); plainName(id) {
		return id
	}
	return DefaultSessionID
}

// plainName reports whether id is usable as a file basename.
func plainName(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// currentSession reads the process-wide session pointer, empty when absent.
func currentSession() string {
	return readPointer(storage.CurrentSessionFile)
}

func setCurrentSession(id string) {
	writePointer(storage.CurrentSessionFile, id)
}

// lastTranscriptPath reads the remembered transcript location, empty when
// absent.
func lastTranscriptPath() string {
	return readPointer(storage.CurrentSessionPathFile)
}

func setLastTranscriptPath(path string) {
	writePointer(storage.CurrentSessionPathFile, path)
}

func readPointer(name string) string {
	data, err := os.ReadFile(bestPath(storage.PointerFilePath(name)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// writePointer updates a pointer file, last write wins. Failures are logged
// and swallowed; a missing pointer only costs a later reconstruction.
func writePointer(name, value string) {
	path := bestPath(storage.PointerFilePath(name))
	if path == "" {
		return
	}
	if err := storage.AtomicWriteFile(path, []byte(value+"\n"), 0o644); err != nil {
		slog.Warn("[history] failed to write pointer", "name", name, "error", err)
	}
}
