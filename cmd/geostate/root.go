package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/goforj/geostate/config"
)

// cliKey is where the running app is stored on the command context.
type cliKey struct{}

type options struct {
	envFiles []string
	asJSON   bool
	app      *app
}

// runCLI executes args and releases the app even when a command fails.
func runCLI(ctx context.Context, args []string, out, errOut io.Writer) error {
	root, opts := newRootCmd()
	root.SetArgs(args)
	if out != nil {
		root.SetOut(out)
	}
	if errOut != nil {
		root.SetErr(errOut)
	}
	err := root.ExecuteContext(ctx)
	if opts.app != nil {
		err = errors.Join(err, opts.app.Close())
	}
	return err
}

func newRootCmd() (*cobra.Command, *options) {
	opts := &options{}
	root := &cobra.Command{
		Use:          "geostate",
		Short:        "Inspect and edit geostate favorites, state and locations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.envFiles...)
			if err != nil {
				return err
			}
			logger := cfg.Logger(cmd.ErrOrStderr())
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			opts.app = a
			cmd.SetContext(contextWithApp(cmd.Context(), a))
			return nil
		},
	}
	root.SetOut(os.Stdout)
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load before reading GEOSTATE_* variables")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		newFavoritesCmd(opts),
		newLocationCmd(opts),
		newStateCmd(opts),
		newStorageCmd(),
	)
	return root, opts
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// readJSONFile decodes path into v; "-" reads the command's stdin.
func readJSONFile(cmd *cobra.Command, path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func contextWithApp(ctx context.Context, a *app) context.Context {
	return context.WithValue(ctx, cliKey{}, a)
}

func appFrom(cmd *cobra.Command) *app {
	a, _ := cmd.Context().Value(cliKey{}).(*app)
	return a
}
