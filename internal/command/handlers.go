package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/outrider-term/outrider/internal/config"
	"github.com/outrider-term/outrider/internal/handler"
	"github.com/outrider-term/outrider/internal/history"
	"github.com/outrider-term/outrider/internal/textutil"
)

// HandlersCommand lists the handlers the broker would serve, grouped by how
// they execute.
type HandlersCommand struct {
	*BaseCommand
	config     *config.Config
	extensions string
}

// NewHandlersCommand creates a new handlers command.
func NewHandlersCommand(cfg *config.Config) *HandlersCommand {
	return &HandlersCommand{
		BaseCommand: NewBaseCommand(
			"handlers",
			"List the extension handlers the broker would serve",
			"handlers [options]",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the handlers command.
func (c *HandlersCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.extensions, "extensions", "", "extension directory searched before the computed locations")
}

// Execute performs the same discovery and binding the serve command would,
// then prints the resulting handler set instead of serving it.
func (c *HandlersCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := handler.NewRuntime(ctx)
	if err != nil {
		return fmt.Errorf("failed to start script runtime: %w", err)
	}
	defer func() { _ = rt.Close() }()

	reg := handler.NewRegistry()
	discovery := &handler.Discovery{
		Override: firstNonEmpty(c.extensions, os.Getenv("OUTRIDER_EXTENSIONS_DIR"), c.config.ExtensionsDir()),
	}
	reg.Bind(rt, c.config, discovery)

	store := history.NewStore(history.Options{})
	defer store.Close()
	reg.Add(history.NewHandler(store))

	groups := make(map[handler.Kind][]handler.Handler)
	for _, h := range reg.Handlers() {
		groups[h.Kind()] = append(groups[h.Kind()], h)
	}

	title := cases.Title(language.Und)
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	first := true
	for _, kind := range []handler.Kind{handler.KindInProcess, handler.KindSubprocess, handler.KindBuiltin} {
		members := groups[kind]
		if len(members) == 0 {
			continue
		}
		if !first {
			_, _ = fmt.Fprintln(w, "")
		}
		first = false
		_, _ = fmt.Fprintf(w, "%s:\n", title.String(strings.ReplaceAll(kind.String(), "-", " ")))
		for _, h := range members {
			_, _ = fmt.Fprintf(w, "  %s\t%s\n", h.Name(), textutil.Truncate(h.Source(), 72, "..."))
		}
	}
	return w.Flush()
}
