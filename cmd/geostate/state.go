package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goforj/geostate/appstate"
)

func newStateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and edit the application state",
	}
	cmd.AddCommand(
		newStateGetCmd(),
		newStateSetCmd(),
		newStateResetCmd(),
		newStateCleanupCmd(opts),
	)
	return cmd
}

func newStateGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [PATH]",
		Short: "Print the state or the sub-tree at a dotted path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			v, ok := appFrom(cmd).state.Get(path)
			if !ok {
				return fmt.Errorf("no state at %q", path)
			}
			return printJSON(cmd, v)
		},
	}
}

func newStateSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set PATH VALUE",
		Short: "Merge a value into the state; VALUE is JSON or a bare string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if err := a.state.SetState(cmd.Context(), patchAt(args[0], parseValue(args[1]))); err != nil {
				return err
			}
			v, _ := a.state.Get(args[0])
			return printJSON(cmd, v)
		},
	}
}

func newStateResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore default state and wipe persisted slices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := appFrom(cmd).state.ResetState(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("State reset.")
			return nil
		},
	}
}

func newStateCleanupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Evict expired weather and location cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := appFrom(cmd).state.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd, map[string]int{"evicted": n})
			}
			cmd.Printf("Evicted %d entries\n", n)
			return nil
		},
	}
}

// patchAt nests value under a dotted path.
func patchAt(path string, value any) appstate.Patch {
	parts := strings.Split(path, ".")
	p := appstate.Patch{parts[len(parts)-1]: value}
	for i := len(parts) - 2; i >= 0; i-- {
		p = appstate.Patch{parts[i]: p}
	}
	return p
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
