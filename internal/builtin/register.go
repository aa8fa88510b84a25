// Package builtin registers the native "host:" modules guest scripts can
// require.
package builtin

import (
	"context"

	"github.com/dop251/goja_nodejs/require"
	execmod "github.com/joeycumines/guestjs/internal/builtin/exec"
	"github.com/joeycumines/guestjs/internal/builtin/fetch"
	fsmod "github.com/joeycumines/guestjs/internal/builtin/fs"
	"github.com/joeycumines/guestjs/internal/builtin/policy"
)

// Prefix is the module name prefix of every native module.
const Prefix = "host:"

// Register registers all native modules with registry. Every module checks
// perm before touching the network, the filesystem or a subprocess.
func Register(ctx context.Context, registry *require.Registry, perm policy.Permissions, exec policy.Executor) {
	registry.RegisterNativeModule(Prefix+"fetch", fetch.Require(perm, exec))
	registry.RegisterNativeModule(Prefix+"fs", fsmod.Require(perm, exec))
	registry.RegisterNativeModule(Prefix+"exec", execmod.Require(ctx, perm))
}
