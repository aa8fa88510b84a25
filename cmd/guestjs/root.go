package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// errGuestFailed reports that guest failures were already printed.
var errGuestFailed = errors.New("guest evaluation failed")

// optionFlags are the persistent flags that override the config key of the
// same name.
var optionFlags = []string{
	"allow-net",
	"allow-read",
	"allow-write",
	"allow-subprocess",
	"tick-interval",
	"io-workers",
	"inspector-address",
	"inspect-brk",
	"type-config-path",
	"skip-type-check",
	"disallow-remote-imports",
	"object-type",
	"array-type",
	"color",
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "guestjs",
		Short: "Run JavaScript and TypeScript against an embedded host runtime",
		Long: `guestjs - evaluate JavaScript and TypeScript in an embedded engine.

Guest code reaches host functions through the "host" proxy and keeps running
timers and I/O between evaluations. Options come from flags, GUESTJS_*
environment variables and the config file (~/.guestjs/config, or
$GUESTJS_CONFIG), in that order.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Config file path")
	pf.Bool("allow-net", true, "Allow guest network access")
	pf.Bool("allow-read", true, "Allow guest file reads")
	pf.Bool("allow-write", true, "Allow guest file writes")
	pf.Bool("allow-subprocess", true, "Allow guest subprocesses")
	pf.Duration("tick-interval", 0, "Delay between ticks while guest work is pending")
	pf.Int("io-workers", 0, "Guest I/O jobs run at once")
	pf.String("inspector-address", "", "Serve the inspector protocol on this address")
	pf.Bool("inspect-brk", false, "Wait for an inspector client before the first evaluation")
	pf.String("type-config-path", "", "tsconfig.json used for typed sources")
	pf.Bool("skip-type-check", false, "Report only hard errors from the typed pass")
	pf.Bool("disallow-remote-imports", false, "Refuse require() of http(s) URLs")
	pf.String("object-type", "", "Host form of guest objects: hash-table, alist, plist")
	pf.String("array-type", "", "Host form of guest arrays: array, list")
	pf.String("color", "", "Color mode: auto, always, never")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-file", "", "Write JSON logs to this file")

	root.AddCommand(newRunCmd(), newEvalCmd(), newReplCmd(), newConfigCmd())
	return root
}
