package fetch

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dop251/goja"
)

func setupFetch(t *testing.T, serverURL string) *goja.Runtime {
	t.Helper()
	runtime := goja.New()
	module := runtime.NewObject()
	Require(runtime, module)
	_ = runtime.Set("fetchMod", module.Get("exports"))
	_ = runtime.Set("url", serverURL)
	return runtime
}

func TestFetchGet(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("X-Widget", "42")
		_, _ = w.Write([]byte("hello world"))
	}))
	defer server.Close()

	runtime := setupFetch(t, server.URL)
	_, err := runtime.RunString(`
		var resp = fetchMod.fetch(url);
		if (resp.status !== 200) throw new Error("status " + resp.status);
		if (resp.ok !== true) throw new Error("expected ok");
		if (resp.text() !== "hello world") throw new Error("body " + resp.text());
		if (resp.headers["x-widget"] !== "42") throw new Error("missing header");
	`)
	if err != nil {
		t.Fatal(err)
	}
}

func TestFetchPostSendsBodyAndHeaders(t *testing.T) {
	t.Parallel()
	var gotMethod, gotType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	runtime := setupFetch(t, server.URL)
	_, err := runtime.RunString(`
		var resp = fetchMod.fetch(url, {
			method: 'post',
			headers: {'Content-Type': 'application/json'},
			body: '{"event":"agent-turn-complete"}'
		});
		if (!resp.ok) throw new Error("status " + resp.status);
	`)
	if err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotType != "application/json" {
		t.Errorf("content-type = %q", gotType)
	}
	if gotBody != `{"event":"agent-turn-complete"}` {
		t.Errorf("body = %q", gotBody)
	}
}

func TestFetchJSON(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"name":  "turn",
			"count": 3.0,
			"tags":  []string{"a", "b"},
		})
	}))
	defer server.Close()

	runtime := setupFetch(t, server.URL)
	_, err := runtime.RunString(`
		var data = fetchMod.fetch(url).json();
		if (data.name !== "turn") throw new Error("name " + data.name);
		if (data.count !== 3) throw new Error("count " + data.count);
		if (data.tags.length !== 2 || data.tags[1] !== "b") throw new Error("tags");
	`)
	if err != nil {
		t.Fatal(err)
	}
}

func TestFetchHTTPErrorIsNotThrown(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	runtime := setupFetch(t, server.URL)
	_, err := runtime.RunString(`
		var resp = fetchMod.fetch(url);
		if (resp.ok !== false) throw new Error("expected ok === false");
		if (resp.status !== 500) throw new Error("status " + resp.status);
	`)
	if err != nil {
		t.Fatal(err)
	}
}

func TestFetchTransportErrorThrows(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	runtime := setupFetch(t, addr)
	_, err := runtime.RunString(`fetchMod.fetch(url)`)
	if err == nil {
		t.Fatal("expected a thrown error for a refused connection")
	}
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	runtime := setupFetch(t, server.URL)
	start := time.Now()
	_, err := runtime.RunString(`fetchMod.fetch(url, {timeout: 0.05})`)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout took %v, want well under the handler delay", elapsed)
	}
}
