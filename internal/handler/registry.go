package handler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/outrider-term/outrider/internal/config"
	"github.com/outrider-term/outrider/internal/diag"
)

// Registry holds handlers in dispatch order. It is assembled before serving
// begins and read-only afterwards; no locking is needed.
type Registry struct {
	handlers []Handler
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends a handler after any already registered.
func (r *Registry) Add(h Handler) {
	r.handlers = append(r.handlers, h)
}

// Handlers returns the registry in dispatch order. The returned slice must
// not be modified.
func (r *Registry) Handlers() []Handler {
	return r.handlers
}

func (r *Registry) Len() int {
	return len(r.handlers)
}

// Bind discovers candidates and binds each one, appending to the registry
// in candidate order. In-process binding is preferred; ES modules and
// scripts that fail to load in-process fall back to the subprocess adapter.
// A candidate that cannot be bound at all is logged and skipped, so one
// broken handler never prevents others from loading.
func (r *Registry) Bind(rt *Runtime, cfg *config.Config, d *Discovery) {
	for _, c := range d.Candidates() {
		if h := bindCandidate(rt, cfg, c); h != nil {
			r.Add(h)
		}
	}
}

func bindCandidate(rt *Runtime, cfg *config.Config, c Candidate) Handler {
	info, err := os.Stat(c.Path)
	if err != nil {
		diag.Logf("bind", "skip %s: %v", c.Path, err)
		return nil
	}
	// ES modules run out of process; the embedded engine is CommonJS only.
	if strings.EqualFold(filepath.Ext(c.Name), ".mjs") {
		return newSubprocess(c.Path, cfg, info)
	}
	if rt != nil {
		h, err := bindScript(rt, c.Path)
		if err == nil {
			diag.Logf("bind", "%s bound in-process", c.Name)
			return h
		}
		diag.Logf("bind", "%s: in-process bind failed, using subprocess: %v", c.Name, err)
	}
	return newSubprocess(c.Path, cfg, info)
}
