package command

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/outrider-term/outrider/internal/config"
)

// HelpCommand displays help information for commands.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

// NewHelpCommand creates a new help command.
func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand(
			"help",
			"Display help information for commands",
			"help [command]",
		),
		registry: registry,
	}
}

// Execute displays help information.
func (c *HelpCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, "outrider - terminal companion: extension broker and prompt history")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Usage: outrider <command> [options] [args...]")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Available commands:")

		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()

		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Use 'outrider help <command>' for more information about a specific command (includes flags).")
		return nil
	}

	// Show help for a specific command.
	cmdName := args[0]
	cmd, err := c.registry.Get(cmdName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", cmdName)
		return err
	}

	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintf(stdout, "Usage: %s\n", cmd.Usage())

	// Show command-specific flags (if any) by invoking SetupFlags on a
	// temporary FlagSet.
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	buf := &bytes.Buffer{}
	fs.SetOutput(buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Flags:")
		_, _ = fmt.Fprint(stdout, buf.String())
	}

	return nil
}

// VersionCommand displays version information.
type VersionCommand struct {
	*BaseCommand
	version string
}

// NewVersionCommand creates a new version command.
func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand(
			"version",
			"Display version information",
			"version",
		),
		version: version,
	}
}

// Execute displays version information.
func (c *VersionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	_, _ = fmt.Fprintf(stdout, "outrider version %s\n", c.version)
	return nil
}

// ConfigCommand manages the configuration file.
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	configPath string
}

// NewConfigCommand creates a new config command. If configPath is empty,
// the default location is resolved at write time (tests pass an explicit
// path).
func NewConfigCommand(cfg *config.Config, configPath ...string) *ConfigCommand {
	var path string
	if len(configPath) > 0 {
		path = configPath[0]
	}
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Manage configuration settings",
			"config <list|get|set|unset> [key] [value]",
		),
		config:     cfg,
		configPath: path,
	}
}

// Execute manages configuration.
func (c *ConfigCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, "Configuration management:")
		_, _ = fmt.Fprintln(stdout, "  config list               - Show all configured options")
		_, _ = fmt.Fprintln(stdout, "  config get <key>          - Get a configuration value")
		_, _ = fmt.Fprintln(stdout, "  config set <key> <value>  - Set a configuration value")
		_, _ = fmt.Fprintln(stdout, "  config unset <key>        - Remove a configuration value")
		return nil
	}

	switch args[0] {
	case "list":
		return c.executeList(stdout)
	case "get":
		if len(args) != 2 {
			_, _ = fmt.Fprintln(stderr, "Usage: config get <key>")
			return fmt.Errorf("invalid arguments")
		}
		return c.executeGet(args[1], stdout)
	case "set":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: config set <key> <value>")
			return fmt.Errorf("invalid arguments")
		}
		// The value may contain spaces (notify-filter expressions do);
		// everything after the key is the value.
		return c.executeSet(args[1], strings.Join(args[2:], " "), stdout, stderr)
	case "unset":
		if len(args) != 2 {
			_, _ = fmt.Fprintln(stderr, "Usage: config unset <key>")
			return fmt.Errorf("invalid arguments")
		}
		return c.executeUnset(args[1], stdout, stderr)
	}

	_, _ = fmt.Fprintf(stderr, "Unknown subcommand: %s\n", args[0])
	return fmt.Errorf("unknown subcommand: %s", args[0])
}

// executeList prints the configuration in config file syntax, so the output
// can be pasted back into a config file.
func (c *ConfigCommand) executeList(stdout io.Writer) error {
	names := make([]string, 0, len(c.config.Global))
	for name := range c.config.Global {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if value := c.config.Global[name]; value != "" {
			_, _ = fmt.Fprintf(stdout, "%s %s\n", name, value)
		} else {
			_, _ = fmt.Fprintf(stdout, "%s\n", name)
		}
	}
	if len(c.config.Interpreters) > 0 {
		exts := make([]string, 0, len(c.config.Interpreters))
		for ext := range c.config.Interpreters {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		if len(names) > 0 {
			_, _ = fmt.Fprintln(stdout, "")
		}
		_, _ = fmt.Fprintln(stdout, "[interpreters]")
		for _, ext := range exts {
			_, _ = fmt.Fprintf(stdout, "%s %s\n", ext, c.config.Interpreters[ext])
		}
	}
	return nil
}

func (c *ConfigCommand) executeGet(key string, stdout io.Writer) error {
	value, ok := c.config.GetGlobalOption(key)
	if !ok {
		_, _ = fmt.Fprintf(stdout, "Configuration key '%s' is not set\n", key)
		return nil
	}
	_, _ = fmt.Fprintln(stdout, value)
	return nil
}

func (c *ConfigCommand) executeSet(key, value string, stdout, stderr io.Writer) error {
	if !config.IsKnownOption(key) {
		_, _ = fmt.Fprintf(stderr, "Warning: unknown option %q\n", key)
	}
	c.config.SetGlobalOption(key, value)
	c.persist(stderr)
	_, _ = fmt.Fprintf(stdout, "Set %s = %s\n", key, value)
	return nil
}

func (c *ConfigCommand) executeUnset(key string, stdout, stderr io.Writer) error {
	if _, ok := c.config.GetGlobalOption(key); !ok {
		_, _ = fmt.Fprintf(stdout, "Configuration key '%s' is not set\n", key)
		return nil
	}
	c.config.UnsetGlobalOption(key)
	c.persist(stderr)
	_, _ = fmt.Fprintf(stdout, "Unset %s\n", key)
	return nil
}

// persist writes the configuration back to disk, best effort. Note that the
// file is rewritten in canonical form; comments are not preserved.
func (c *ConfigCommand) persist(stderr io.Writer) {
	path := c.configPath
	if path == "" {
		path, _ = config.GetConfigPath()
	}
	if path == "" {
		return
	}
	if err := c.config.SaveToPath(path); err != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: failed to persist config to disk: %v\n", err)
	}
}
