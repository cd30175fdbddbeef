package command

import (
	"bytes"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/outrider-term/outrider/internal/config"
)

func TestRegistryGet(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewVersionCommand("dev"))

	cmd, err := registry.Get("version")
	if err != nil {
		t.Fatalf("Get(version) error = %v", err)
	}
	if cmd.Name() != "version" {
		t.Errorf("Name() = %q, want version", cmd.Name())
	}

	if _, err := registry.Get("no-such-command"); err == nil {
		t.Error("Get() on an unknown name should fail")
	}
}

func TestRegistryListSorted(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewVersionCommand("dev"))
	registry.Register(NewHelpCommand(registry))
	registry.Register(NewConfigCommand(config.NewConfig()))

	got := registry.List()
	want := []string{"config", "help", "version"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestRegistryReregisterReplaces(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewVersionCommand("one"))
	registry.Register(NewVersionCommand("two"))

	cmd, err := registry.Get("version")
	if err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	if err := cmd.Execute(nil, out, io.Discard); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "two") {
		t.Errorf("output = %q, want the later registration to win", out.String())
	}
}
