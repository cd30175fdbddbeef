// Package config loads the broker configuration from a dnsmasq-style file:
// one "option value" pair per line, # comments, and an optional
// [interpreters] section mapping script extensions to interpreter command
// lines.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultPort is the control-connection port when neither flag, env, nor
// config supplies one.
const DefaultPort = 7177

// Global option names.
const (
	OptionPort             = "port"
	OptionExtensionsDir    = "extensions-dir"
	OptionHistoryDir       = "history-dir"
	OptionSessionsDir      = "sessions-dir"
	OptionLogPath          = "log-path"
	OptionNotifyFilter     = "notify-filter"
	OptionFilterSystemText = "history-filter-system-text"
	OptionWatchTranscript  = "history-watch-transcript"
)

var knownGlobals = map[string]string{
	OptionPort:             "int",
	OptionExtensionsDir:    "path",
	OptionHistoryDir:       "path",
	OptionSessionsDir:      "path",
	OptionLogPath:          "path",
	OptionNotifyFilter:     "expr",
	OptionFilterSystemText: "bool",
	OptionWatchTranscript:  "bool",
}

// Config represents the broker configuration.
type Config struct {
	// Global options, keyed by option name.
	Global map[string]string
	// Interpreters maps a lowercase script extension (with leading dot) to
	// an interpreter command line, parsed from the [interpreters] section.
	Interpreters map[string]string
	// Warnings contains any warnings generated during config loading.
	Warnings []string
}

// NewConfig creates a new empty configuration.
func NewConfig() *Config {
	return &Config{
		Global:       make(map[string]string),
		Interpreters: make(map[string]string),
	}
}

// Load loads configuration from the default config file path.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	return LoadFromPath(configPath)
}

// LoadFromPath loads configuration from the specified file path. A missing
// file yields an empty configuration, not an error.
//
// The final path component must not be a symlink; this prevents reading
// arbitrary files through symlink substitution in the config directory.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() { _ = file.Close() }()
	return LoadFromReader(file)
}

// LoadFromReader loads configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	config := NewConfig()
	scanner := bufio.NewScanner(r)

	var inInterpreters bool
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			sectionName := strings.Trim(line, "[]")
			switch sectionName {
			case "interpreters":
				inInterpreters = true
			default:
				inInterpreters = false
				config.addWarning("unknown section %q ignored", sectionName)
			}
			continue
		}

		// Option line: optionName remainingLineIsTheValue
		parts := strings.SplitN(line, " ", 2)
		name := parts[0]
		var value string
		if len(parts) > 1 {
			value = strings.TrimSpace(parts[1])
		}

		if inInterpreters {
			ext := strings.ToLower(name)
			if !strings.HasPrefix(ext, ".") || value == "" {
				config.addWarning("invalid interpreter entry %q", line)
				continue
			}
			config.Interpreters[ext] = value
			continue
		}

		config.Global[name] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	config.validate()
	return config, nil
}

// validate checks global options against the known set, recording warnings
// for unknown names and unparsable values.
func (c *Config) validate() {
	for name, value := range c.Global {
		kind, ok := knownGlobals[name]
		if !ok {
			c.addWarning("unknown option %q", name)
			continue
		}
		switch kind {
		case "int":
			if _, err := strconv.Atoi(value); err != nil {
				c.addWarning("option %q: invalid integer %q", name, value)
			}
		case "bool":
			if _, err := parseBool(value); err != nil {
				c.addWarning("option %q: %v", name, err)
			}
		}
	}
}

// addWarning adds a warning to the config's warnings list.
func (c *Config) addWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("[config] " + msg)
}

// parseBool accepts the dnsmasq-flavored spellings of booleans.
func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", value)
}

// IsKnownOption reports whether name is a recognized global option.
func IsKnownOption(name string) bool {
	_, ok := knownGlobals[name]
	return ok
}

// GetGlobalOption returns a global option value.
func (c *Config) GetGlobalOption(name string) (string, bool) {
	v, ok := c.Global[name]
	return v, ok
}

// SetGlobalOption sets a global option value.
func (c *Config) SetGlobalOption(name, value string) {
	c.Global[name] = value
}

// UnsetGlobalOption removes a global option.
func (c *Config) UnsetGlobalOption(name string) {
	delete(c.Global, name)
}

// Port returns the configured control port, or DefaultPort.
func (c *Config) Port() int {
	if v, ok := c.Global[OptionPort]; ok {
		if port, err := strconv.Atoi(v); err == nil && port >= 0 && port <= 65535 {
			return port
		}
	}
	return DefaultPort
}

// ExtensionsDir returns the handler discovery override directory ("" when
// unset).
func (c *Config) ExtensionsDir() string {
	return c.Global[OptionExtensionsDir]
}

// HistoryDir returns the configured history state directory ("" when unset).
func (c *Config) HistoryDir() string {
	return c.Global[OptionHistoryDir]
}

// SessionsDir returns the host transcript root used for latest-transcript
// scans ("" disables the scan).
func (c *Config) SessionsDir() string {
	return c.Global[OptionSessionsDir]
}

// LogPath returns the initial diagnostic log path ("" when unset).
func (c *Config) LogPath() string {
	return c.Global[OptionLogPath]
}

// NotifyFilter returns the notify-filter expression ("" when unset).
func (c *Config) NotifyFilter() string {
	return c.Global[OptionNotifyFilter]
}

// FilterSystemText reports whether system-generated text prefixes are
// excluded from history. Default false.
func (c *Config) FilterSystemText() bool {
	if v, ok := c.Global[OptionFilterSystemText]; ok {
		if b, err := parseBool(v); err == nil {
			return b
		}
	}
	return false
}

// WatchTranscript reports whether the transcript mirror keeper watches the
// transcript for changes. Default true.
func (c *Config) WatchTranscript() bool {
	if v, ok := c.Global[OptionWatchTranscript]; ok {
		if b, err := parseBool(v); err == nil {
			return b
		}
	}
	return true
}

// Interpreter returns the interpreter command line configured for a script
// extension (lowercase, with leading dot).
func (c *Config) Interpreter(ext string) (string, bool) {
	v, ok := c.Interpreters[strings.ToLower(ext)]
	return v, ok
}

// GetWarnings returns warnings generated during loading.
func (c *Config) GetWarnings() []string {
	return c.Warnings
}

// SaveToPath writes the configuration to the given file path.
func (c *Config) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	names := make([]string, 0, len(c.Global))
	for name := range c.Global {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := c.Global[name]; v != "" {
			fmt.Fprintf(&sb, "%s %s\n", name, v)
		} else {
			fmt.Fprintf(&sb, "%s\n", name)
		}
	}
	if len(c.Interpreters) > 0 {
		exts := make([]string, 0, len(c.Interpreters))
		for ext := range c.Interpreters {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		sb.WriteString("\n[interpreters]\n")
		for _, ext := range exts {
			fmt.Fprintf(&sb, "%s %s\n", ext, c.Interpreters[ext])
		}
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
