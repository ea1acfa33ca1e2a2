package main

import (
	"github.com/spf13/cobra"
)

func newStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect the configured storage backend",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List the keys persisted by geostate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			keys, err := a.repo.Keys(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"driver": a.repo.Store().Driver(),
				"keys":   keys,
			})
		},
	})
	return cmd
}
