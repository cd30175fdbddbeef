package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/outrider-term/outrider/internal/argv"
	"github.com/outrider-term/outrider/internal/config"
	"github.com/outrider-term/outrider/internal/diag"
	"github.com/outrider-term/outrider/internal/protocol"
	"github.com/outrider-term/outrider/internal/textutil"
)

// maxChildLine bounds a single stdout line from a child handler. Matches the
// server's inbound limit so a handler can relay anything it was sent.
const maxChildLine = 8 << 20

// subprocessHandler runs a script as a child process, one invocation per
// request. The child receives the request JSON on stdin and answers with a
// JSON response on stdout; the last stdout line that parses as a JSON
// object wins, so scripts may print diagnostics freely.
type subprocessHandler struct {
	name   string
	path   string
	interp []string // argv prefix; empty means execute path directly
}

var _ Handler = (*subprocessHandler)(nil)

// newSubprocess binds path as a subprocess handler, resolving the
// interpreter once at bind time.
func newSubprocess(path string, cfg *config.Config, info os.FileInfo) *subprocessHandler {
	return &subprocessHandler{
		name:   filepath.Base(path),
		path:   path,
		interp: interpreterFor(path, cfg, info),
	}
}

func (h *subprocessHandler) Name() string   { return h.name }
func (h *subprocessHandler) Source() string { return h.path }
func (h *subprocessHandler) Kind() Kind     { return KindSubprocess }

// Handle runs the child and converts every failure mode into an
// error-status response rather than a handler failure, so one broken
// external script degrades gracefully.
func (h *subprocessHandler) Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	if len(h.interp) > 0 {
		args := append(append([]string{}, h.interp[1:]...), h.path)
		cmd = exec.CommandContext(ctx, h.interp[0], args...)
	} else {
		cmd = exec.CommandContext(ctx, h.path)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(append(line, '\n'))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	env := append(os.Environ(), "OUTRIDER_RUN_ID="+diag.RunID())
	if p := diag.Path(); p != "" {
		env = append(env, "OUTRIDER_LOG="+p)
	}
	cmd.Env = env

	runErr := cmd.Run()
	resp := lastJSONResponse(stdout.Bytes())
	if runErr != nil || resp == nil {
		msg := h.name + ": "
		if runErr != nil {
			msg += runErr.Error()
		} else {
			msg += "no response on stdout"
		}
		if excerpt := textutil.Preview(stderr.String(), 200); excerpt != "" {
			msg += ": " + excerpt
		}
		return protocol.Errorf("%s", msg), nil
	}
	return resp, nil
}

// lastJSONResponse scans child stdout for the last line that parses as a
// JSON object. A missing status is treated as ok.
func lastJSONResponse(out []byte) *protocol.Response {
	var resp *protocol.Response
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), maxChildLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var candidate protocol.Response
		if err := json.Unmarshal(line, &candidate); err == nil {
			c := candidate
			resp = &c
		}
	}
	if resp != nil && resp.Status == "" {
		resp.Status = protocol.StatusOK
	}
	return resp
}

// interpreterFor picks how to run path: executables run directly (never on
// Windows, where scripts lack a usable execute bit), otherwise the config
// interpreter table maps the extension to an argv prefix, defaulting to
// node.
func interpreterFor(path string, cfg *config.Config, info os.FileInfo) []string {
	if runtime.GOOS != "windows" && info != nil && info.Mode().Perm()&0o111 != 0 {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if cfg != nil {
		if cmdline, ok := cfg.Interpreter(ext); ok {
			if args := argv.ParseSlice(cmdline); len(args) > 0 {
				return args
			}
		}
	}
	return []string{"node"}
}
