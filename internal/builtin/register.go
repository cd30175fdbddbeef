// Package builtin registers the native Go modules exposed to handler
// scripts through CommonJS require.
package builtin

import (
	"github.com/dop251/goja_nodejs/require"

	execmod "github.com/outrider-term/outrider/internal/builtin/exec"
	fetchmod "github.com/outrider-term/outrider/internal/builtin/fetch"
	hostmod "github.com/outrider-term/outrider/internal/builtin/host"
	osmod "github.com/outrider-term/outrider/internal/builtin/os"
	textmod "github.com/outrider-term/outrider/internal/builtin/text"
)

// Register registers all native modules with the provided registry. It must
// run before any handler script loads.
func Register(registry *require.Registry) {
	registry.RegisterNativeModule(execmod.ModuleName, execmod.Require)
	registry.RegisterNativeModule(fetchmod.ModuleName, fetchmod.Require)
	registry.RegisterNativeModule(hostmod.ModuleName, hostmod.Require)
	registry.RegisterNativeModule(osmod.ModuleName, osmod.Require)
	registry.RegisterNativeModule(textmod.ModuleName, textmod.Require)
}
