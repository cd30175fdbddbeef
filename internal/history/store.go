// Package history implements the prompt-history store: a per-session,
// file-persisted navigation log reconciled against an external rollout
// transcript, with duplicate collapsing, random-access delete, and cursor
// consistency.
//
// All file I/O is best-effort. A failed read means "no data"; a failed
// write is logged and swallowed. History must never take the broker down.
package history

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/outrider-term/outrider/internal/diag"
	"github.com/outrider-term/outrider/internal/protocol"
	"github.com/outrider-term/outrider/internal/storage"
	"github.com/outrider-term/outrider/internal/textutil"
)

// pageSize is how many entries prev_page/next_page traverse at once.
const pageSize = 10

// Options configures a Store.
type Options struct {
	// FilterSystemText drops host-injected context blocks from seeded and
	// pushed entries.
	FilterSystemText bool
	// SessionsRoot, when non-empty, is scanned for the newest transcript
	// when reconstruction finds no remembered path.
	SessionsRoot string
	// WatchTranscript keeps session mirrors fresh with a filesystem
	// watcher instead of only re-mirroring on demand.
	WatchTranscript bool
}

// Store is the per-session history state machine. Methods return protocol
// responses directly; they never fail, they degrade.
type Store struct {
	filterSystem bool
	sessionsRoot string
	fresh        *cache.Cache
	keeper       *mirrorKeeper
}

func NewStore(opts Options) *Store {
	s := &Store{
		filterSystem: opts.FilterSystemText,
		sessionsRoot: opts.SessionsRoot,
		fresh:        cache.New(24*time.Hour, time.Hour),
	}
	if opts.WatchTranscript {
		s.keeper = newMirrorKeeper(s)
	}
	return s
}

// Close stops the transcript watcher, if one is running.
func (s *Store) Close() {
	if s.keeper != nil {
		s.keeper.Close()
	}
}

// bestPath unwraps a storage path lookup. An empty result means the state
// directory is unavailable; reads treat it as a miss and writes skip.
func bestPath(path string, err error) string {
	if err != nil {
		return ""
	}
	return path
}

// params carries the recognized payload fields of history actions.
type params struct {
	SessionID   string
	SessionPath string
	Text        string
	Index       *int
	Entries     []string
}

func decodeParams(payload map[string]any) params {
	var p params
	if payload == nil {
		return p
	}
	p.SessionID, _ = payload["session_id"].(string)
	p.SessionPath, _ = payload["session_path"].(string)
	p.Text, _ = payload["text"].(string)
	if v, ok := payload["index"]; ok {
		switch n := v.(type) {
		case float64:
			i := int(n)
			p.Index = &i
		case int:
			i := n
			p.Index = &i
		case int64:
			i := int(n)
			p.Index = &i
		}
	}
	switch list := payload["entries"].(type) {
	case []any:
		for _, item := range list {
			if str, ok := item.(string); ok {
				p.Entries = append(p.Entries, str)
			}
		}
	case []string:
		p.Entries = append(p.Entries, list...)
	}
	return p
}

// Seed replaces the session's log from a transcript, falling back to an
// explicit entry list, and leaves the cursor in the browsing-exited
// position.
func (s *Store) Seed(p params) *protocol.Response {
	id := resolveSessionID(p)
	setCurrentSession(id)

	var entries []string
	if p.SessionPath != "" {
		setLastTranscriptPath(p.SessionPath)
		if s.keeper != nil {
			s.keeper.Watch(id, p.SessionPath)
		}
		if data, err := os.ReadFile(p.SessionPath); err == nil {
			s.mirrorBytes(id, p.SessionPath, data)
			entries = s.cleanParsed(parseTranscript(data))
		}
	}
	if len(entries) == 0 && len(p.Entries) > 0 {
		entries = s.cleanEntries(p.Entries)
	}

	s.writeLog(id, entries)
	s.writeCursor(id, len(entries))
	diag.Logf("history", "seed %s: %d entries", id, len(entries))
	return protocol.OKPayload(map[string]any{"count": len(entries)})
}

// Push appends one cleaned entry, collapsing an immediate duplicate, and
// exits browsing.
func (s *Store) Push(p params) *protocol.Response {
	id := s.resolveExisting(p)
	s.refreshMirror(id)

	text := Clean(p.Text, s.filterSystem)
	if text == "" {
		return protocol.Skip()
	}
	entries := s.readLog(id)
	if len(entries) > 0 && NormalKey(entries[len(entries)-1]) == NormalKey(text) {
		s.writeCursor(id, len(entries))
		return protocol.OK()
	}
	s.appendLog(id, text)
	s.writeCursor(id, len(entries)+1)
	diag.Logf("history", "push %s: %s", id, textutil.Preview(text, 80))
	return protocol.OK()
}

// Prev steps the cursor one entry toward the start and returns that entry.
func (s *Store) Prev(p params) *protocol.Response {
	return s.step(p, -1)
}

// Next steps the cursor one entry toward the end. Stepping past the last
// entry parks the cursor at length and returns the empty exit-browsing
// sentinel.
func (s *Store) Next(p params) *protocol.Response {
	return s.step(p, +1)
}

// PrevPage and NextPage move a whole page at a time with a single persist,
// with the same clamp and sentinel behavior as Prev and Next.
func (s *Store) PrevPage(p params) *protocol.Response {
	return s.step(p, -pageSize)
}

func (s *Store) NextPage(p params) *protocol.Response {
	return s.step(p, +pageSize)
}

func (s *Store) step(p params, delta int) *protocol.Response {
	id := s.resolveExisting(p)
	entries := s.ensureLog(id)
	if len(entries) == 0 {
		return protocol.Skip()
	}
	cur := s.readCursor(id, len(entries))
	cur += delta
	if cur < 0 {
		cur = 0
	}
	// Stepping forward past the end parks the cursor in the exited
	// position; stepping backward cannot reach it.
	if cur >= len(entries) {
		s.writeCursor(id, len(entries))
		return protocol.OKText("")
	}
	s.writeCursor(id, cur)
	return protocol.OKText(entries[cur])
}

// First and Last jump the cursor to the ends of the log.
func (s *Store) First(p params) *protocol.Response {
	return s.jump(p, func(n int) int { return 0 })
}

func (s *Store) Last(p params) *protocol.Response {
	return s.jump(p, func(n int) int { return n - 1 })
}

func (s *Store) jump(p params, pos func(length int) int) *protocol.Response {
	id := s.resolveExisting(p)
	entries := s.ensureLog(id)
	if len(entries) == 0 {
		return protocol.Skip()
	}
	cur := pos(len(entries))
	s.writeCursor(id, cur)
	return protocol.OKText(entries[cur])
}

// Delete removes one entry by explicit index or by content match, keeps the
// cursor pointing at the same logical place, attempts the matching
// transcript line removal, and returns the entry now occupying the deleted
// index.
func (s *Store) Delete(p params) *protocol.Response {
	id := s.resolveExisting(p)
	entries := s.ensureLog(id)
	if len(entries) == 0 {
		return protocol.Skip()
	}

	idx := -1
	if p.Index != nil {
		if *p.Index >= 0 && *p.Index < len(entries) {
			idx = *p.Index
		}
	} else if p.Text != "" {
		key := NormalKey(p.Text)
		for i, e := range entries {
			if NormalKey(e) == key {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return protocol.Skip()
	}

	removedKey := NormalKey(entries[idx])
	oldLen := len(entries)
	entries = append(entries[:idx:idx], entries[idx+1:]...)
	// Removal can bring two equal entries together; the log invariant
	// still holds after a rewrite.
	entries = dedupConsecutive(entries)

	cur := s.readCursor(id, oldLen)
	if cur > idx {
		cur--
	}
	if cur > len(entries) {
		cur = len(entries)
	}

	s.writeLog(id, entries)
	s.writeCursor(id, cur)
	s.deleteFromTranscript(id, idx, removedKey)

	text := ""
	if idx < len(entries) {
		text = entries[idx]
	}
	return protocol.OKText(text)
}

// resolveExisting resolves the session id without touching the current
// pointer; only Seed rewrites it.
func (s *Store) resolveExisting(p params) string {
	return resolveSessionID(p)
}

// ensureLog reads the session's log, attempting one reconstruction when it
// is empty: the remembered transcript, then the session mirror, then the
// newest transcript under the sessions root.
func (s *Store) ensureLog(id string) []string {
	if entries := s.readLog(id); len(entries) > 0 {
		return entries
	}

	var data []byte
	if path := lastTranscriptPath(); path != "" {
		data, _ = os.ReadFile(path)
	}
	if data == nil {
		data, _ = os.ReadFile(bestPath(storage.MirrorFilePath(id)))
	}
	if data == nil && s.sessionsRoot != "" {
		if path := latestTranscript(s.sessionsRoot, id); path != "" {
			if b, err := os.ReadFile(path); err == nil {
				data = b
				setLastTranscriptPath(path)
				if s.keeper != nil {
					s.keeper.Watch(id, path)
				}
			}
		}
	}
	if data == nil {
		return nil
	}

	entries := s.cleanParsed(parseTranscript(data))
	if len(entries) == 0 {
		return nil
	}
	s.writeLog(id, entries)
	s.writeCursor(id, len(entries))
	diag.Logf("history", "reconstructed %s: %d entries", id, len(entries))
	return entries
}

func (s *Store) cleanParsed(parsed []transcriptEntry) []string {
	raw := make([]string, 0, len(parsed))
	for _, e := range parsed {
		raw = append(raw, e.text)
	}
	return s.cleanEntries(raw)
}

func (s *Store) cleanEntries(raw []string) []string {
	var out []string
	for _, e := range raw {
		if t := Clean(e, s.filterSystem); t != "" {
			out = append(out, t)
		}
	}
	return dedupConsecutive(out)
}

// deleteFromTranscript removes the transcript line backing a deleted entry:
// the parsed user line at the same index when its key still matches, else
// the first line with matching content. Best-effort, then re-mirror.
func (s *Store) deleteFromTranscript(id string, logIdx int, key string) {
	path := lastTranscriptPath()
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	parsed := parseTranscript(data)

	target := -1
	if logIdx >= 0 && logIdx < len(parsed) && s.entryKey(parsed[logIdx].text) == key {
		target = parsed[logIdx].line
	} else {
		for _, e := range parsed {
			if s.entryKey(e.text) == key {
				target = e.line
				break
			}
		}
	}
	if target < 0 {
		return
	}

	lines := bytes.Split(data, []byte("\n"))
	if target >= len(lines) {
		return
	}
	lines = append(lines[:target:target], lines[target+1:]...)
	rebuilt := bytes.Join(lines, []byte("\n"))

	perm := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := storage.AtomicWriteFile(path, rebuilt, perm); err != nil {
		slog.Warn("[history] failed to rewrite transcript", "path", path, "error", err)
		return
	}
	s.mirrorBytes(id, path, rebuilt)
}

func (s *Store) entryKey(text string) string {
	return NormalKey(Clean(text, s.filterSystem))
}

// latestTranscript finds the newest *.jsonl under root, preferring files
// whose stem matches the session id.
func latestTranscript(root, id string) string {
	var newest, newestMatch string
	var newestT, newestMatchT time.Time
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mt := info.ModTime()
		if newest == "" || mt.After(newestT) {
			newest, newestT = path, mt
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if stem == id && (newestMatch == "" || mt.After(newestMatchT)) {
			newestMatch, newestMatchT = path, mt
		}
		return nil
	})
	if newestMatch != "" {
		return newestMatch
	}
	return newest
}

// logLine is the on-disk record for one history entry.
type logLine struct {
	Text string `json:"text"`
}

// readLog loads the session's entries, skipping lines that do not parse and
// collapsing consecutive duplicates.
func (s *Store) readLog(id string) []string {
	data, err := os.ReadFile(bestPath(storage.HistoryFilePath(id)))
	if err != nil {
		return nil
	}
	var entries []string
	for _, raw := range bytes.Split(data, []byte("\n")) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		var rec logLine
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if t := Clean(rec.Text, false); t != "" {
			entries = append(entries, t)
		}
	}
	return dedupConsecutive(entries)
}

// writeLog rewrites the session's log wholesale.
func (s *Store) writeLog(id string, entries []string) {
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(logLine{Text: e})
		if err != nil {
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	path := bestPath(storage.HistoryFilePath(id))
	if path == "" {
		return
	}
	if err := storage.AtomicWriteFile(path, buf.Bytes(), 0o644); err != nil {
		slog.Warn("[history] failed to write log", "session", id, "error", err)
	}
}

// appendLog adds one entry without rewriting the file.
func (s *Store) appendLog(id, text string) {
	line, err := json.Marshal(logLine{Text: text})
	if err != nil {
		return
	}
	path := bestPath(storage.HistoryFilePath(id))
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Warn("[history] failed to create history directory", "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("[history] failed to append to log", "session", id, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Warn("[history] failed to append to log", "session", id, "error", err)
	}
}

// cursorRecord is the on-disk cursor state.
type cursorRecord struct {
	Cursor int `json:"cursor"`
}

// readCursor loads the session cursor, defaulting to length (browsing
// exited) and clamping into [0, length].
func (s *Store) readCursor(id string, length int) int {
	data, err := os.ReadFile(bestPath(storage.CursorFilePath(id)))
	if err != nil {
		return length
	}
	var rec cursorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return length
	}
	cur := rec.Cursor
	if cur < 0 {
		cur = 0
	}
	if cur > length {
		cur = length
	}
	return cur
}

func (s *Store) writeCursor(id string, cursor int) {
	data, err := json.Marshal(cursorRecord{Cursor: cursor})
	if err != nil {
		return
	}
	path := bestPath(storage.CursorFilePath(id))
	if path == "" {
		return
	}
	if err := storage.AtomicWriteFile(path, data, 0o644); err != nil {
		slog.Warn("[history] failed to write cursor", "session", id, "error", err)
	}
}
