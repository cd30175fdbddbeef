package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/outrider-term/outrider/internal/broker"
	"github.com/outrider-term/outrider/internal/config"
	"github.com/outrider-term/outrider/internal/diag"
	"github.com/outrider-term/outrider/internal/handler"
	"github.com/outrider-term/outrider/internal/history"
	"github.com/outrider-term/outrider/internal/storage"
)

// ServeCommand runs the extension broker until the host shuts it down or
// disconnects.
type ServeCommand struct {
	*BaseCommand
	config     *config.Config
	port       int
	extensions string
	logPath    string
	// ctxFactory creates the execution context. If nil, uses
	// signal.NotifyContext. Tests set this to avoid signal handling races.
	ctxFactory func() (context.Context, context.CancelFunc)
}

// NewServeCommand creates a new serve command.
func NewServeCommand(cfg *config.Config) *ServeCommand {
	return &ServeCommand{
		BaseCommand: NewBaseCommand(
			"serve",
			"Run the extension broker and history service",
			"serve [options]",
		),
		config: cfg,
		// -1 distinguishes "flag not given" from an explicit port 0.
		port: -1,
	}
}

// SetupFlags configures the flags for the serve command.
func (c *ServeCommand) SetupFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.port, "port", -1, "listen port; 0 picks a free port (default from OUTRIDER_PORT or config)")
	fs.StringVar(&c.extensions, "extensions", "", "extension directory searched before the computed locations")
	fs.StringVar(&c.logPath, "log", "", "diagnostic log file (default from OUTRIDER_LOG or config)")
}

// Execute wires the handler registry, the history service, and the protocol
// server together, then serves the single host connection. A nil return
// means clean end of service: shutdown request, host disconnect, or signal.
func (c *ServeCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if c.ctxFactory != nil {
		ctx, cancel = c.ctxFactory()
	} else {
		ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	}
	defer cancel()

	for _, warning := range c.config.GetWarnings() {
		log.Printf("warning: %s", warning)
	}

	if logPath := firstNonEmpty(c.logPath, os.Getenv("OUTRIDER_LOG"), c.config.LogPath()); logPath != "" {
		diag.SetPath(logPath)
	}
	// OUTRIDER_HISTORY_DIR is honored by the storage layer itself; the
	// config option only applies when the env override is absent.
	if dir := c.config.HistoryDir(); dir != "" && os.Getenv("OUTRIDER_HISTORY_DIR") == "" {
		storage.SetDirectory(dir)
	}

	rt, err := handler.NewRuntime(ctx)
	if err != nil {
		return fmt.Errorf("failed to start script runtime: %w", err)
	}
	defer func() { _ = rt.Close() }()

	reg := handler.NewRegistry()
	discovery := &handler.Discovery{Override: c.overrideDir()}
	reg.Bind(rt, c.config, discovery)

	store := history.NewStore(history.Options{
		FilterSystemText: c.config.FilterSystemText(),
		SessionsRoot:     firstNonEmpty(os.Getenv("OUTRIDER_SESSIONS_DIR"), c.config.SessionsDir()),
		WatchTranscript:  c.config.WatchTranscript(),
	})
	defer store.Close()
	// Registered last so an extension can claim a history action before the
	// built-in answers it.
	reg.Add(history.NewHandler(store))

	srv := broker.NewServer(reg, broker.Options{
		Port:         c.resolvePort(),
		NotifyFilter: c.config.NotifyFilter(),
	})
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("failed to bind control port: %w", err)
	}
	// The host parses this line to find the port when it asked for port 0.
	_, _ = fmt.Fprintf(stdout, "listening on %s\n", srv.Addr())
	diag.Logf("serve", "%d handlers bound, listening on %s", reg.Len(), srv.Addr())

	return srv.Run(ctx)
}

// overrideDir resolves the extension override directory: flag, then env,
// then config.
func (c *ServeCommand) overrideDir() string {
	return firstNonEmpty(c.extensions, os.Getenv("OUTRIDER_EXTENSIONS_DIR"), c.config.ExtensionsDir())
}

// resolvePort resolves the listen port: flag, then OUTRIDER_PORT, then
// config, then the default.
func (c *ServeCommand) resolvePort() int {
	if c.port >= 0 {
		return c.port
	}
	if v := os.Getenv("OUTRIDER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port >= 0 && port <= 65535 {
			return port
		}
		log.Printf("warning: ignoring invalid OUTRIDER_PORT %q", v)
	}
	return c.config.Port()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
