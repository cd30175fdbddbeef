// Package storage resolves the on-disk layout of the history state directory
// and provides atomic whole-file writes for the records kept there.
//
// Layout (one shared directory per user):
//
//	<session-id>.jsonl         history log, one {"text":...} record per line
//	<session-id>.state.json    cursor, {"cursor":N}
//	<session-id>.rollout.jsonl local mirror of the host transcript
//	current_session            pointer file, plain text
//	current_session_path       pointer file, plain text
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Pointer file names.
const (
	CurrentSessionFile     = "current_session"
	CurrentSessionPathFile = "current_session_path"
)

// The directory resolver is a variable so an operator-configured directory
// (and tests) can override the env/platform default.
var historyDirectory = HistoryDirectory

// SetDirectory pins the history directory for the rest of the process,
// taking precedence over OUTRIDER_HISTORY_DIR and the platform default.
// An empty dir restores default resolution.
func SetDirectory(dir string) {
	if dir == "" {
		historyDirectory = HistoryDirectory
		return
	}
	historyDirectory = func() (string, error) { return dir, nil }
}

// ResetPaths restores the default resolver. Tests only.
func ResetPaths() {
	historyDirectory = HistoryDirectory
}

// HistoryDirectory returns the directory holding all history state.
// OUTRIDER_HISTORY_DIR overrides; the default is
// {UserConfigDir}/outrider/history.
func HistoryDirectory() (string, error) {
	if dir := os.Getenv("OUTRIDER_HISTORY_DIR"); dir != "" {
		return dir, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "outrider", "history"), nil
}

// HistoryFilePath returns the path of a session's history log.
func HistoryFilePath(sessionID string) (string, error) {
	dir, err := historyDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionID+".jsonl"), nil
}

// CursorFilePath returns the path of a session's cursor record.
func CursorFilePath(sessionID string) (string, error) {
	dir, err := historyDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionID+".state.json"), nil
}

// MirrorFilePath returns the path of a session's transcript mirror.
func MirrorFilePath(sessionID string) (string, error) {
	dir, err := historyDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionID+".rollout.jsonl"), nil
}

// PointerFilePath returns the path of one of the global pointer files.
func PointerFilePath(name string) (string, error) {
	dir, err := historyDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
