package main

import (
	"fmt"
	"sort"

	"github.com/joeycumines/guestjs/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the config file",
	}

	get := &cobra.Command{
		Use:   "get [key]",
		Short: "Print effective option values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			schema := config.DefaultSchema()
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if schema.Lookup("", args[0]) == nil {
					return fmt.Errorf("unknown option %q", args[0])
				}
				_, _ = fmt.Fprintln(out, schema.Resolve(cfg, args[0]))
				return nil
			}
			opts := schema.GlobalOptions()
			sort.Slice(opts, func(i, j int) bool { return opts[i].Key < opts[j].Key })
			for _, o := range opts {
				_, _ = fmt.Fprintf(out, "%s %s\n", o.Key, schema.Resolve(cfg, o.Key))
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Set a global option in the config file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema := config.DefaultSchema()
			if schema.Lookup("", args[0]) == nil {
				return fmt.Errorf("unknown option %q", args[0])
			}
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				var err error
				if path, err = config.GetConfigPath(); err != nil {
					return err
				}
			}
			var value string
			if len(args) == 2 {
				value = args[1]
			}
			return config.SetKeyInFile(path, args[0], value)
		},
	}

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Describe every known option",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), config.DefaultSchema().FormatHelp())
			return err
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, _ := cmd.Flags().GetString("config")
			if p == "" {
				var err error
				if p, err = config.GetConfigPath(); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), p)
			return err
		},
	}

	cmd.AddCommand(get, set, schema, path)
	return cmd
}
