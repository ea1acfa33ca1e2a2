package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goforj/geostate/favorites"
	"github.com/goforj/geostate/geo"
)

func newFavoritesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"fav"},
		Short:   "Manage favorite locations",
	}
	cmd.AddCommand(
		newFavoritesListCmd(opts),
		newFavoritesAddCmd(opts),
		newFavoritesRemoveCmd(),
		newFavoritesPinCmd(opts),
		newFavoritesViewCmd(opts),
		newFavoritesReorderCmd(),
		newFavoritesExportCmd(),
		newFavoritesImportCmd(),
		newFavoritesClearCmd(),
		newFavoritesWatchCmd(opts),
	)
	return cmd
}

func newFavoritesListCmd(opts *options) *cobra.Command {
	var (
		query string
		by    string
		order string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List favorites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := appFrom(cmd).favorites
			var (
				list []favorites.Favorite
				err  error
			)
			switch {
			case query != "":
				list, err = svc.Search(cmd.Context(), query)
			case by != "":
				list, err = svc.Sorted(cmd.Context(), favorites.SortBy(by), favorites.Order(order))
			default:
				list, err = svc.All(cmd.Context())
			}
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd, list)
			}
			if len(list) == 0 {
				cmd.Println("No favorites.")
				return nil
			}
			for _, f := range list {
				printFavorite(cmd, f)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by name, state, country or local name")
	cmd.Flags().StringVar(&by, "sort", "", "sort key: name, addedAt, lastViewed, viewCount")
	cmd.Flags().StringVar(&order, "order", string(favorites.Asc), "sort order: asc or desc")
	return cmd
}

func newFavoritesAddCmd(opts *options) *cobra.Command {
	var (
		loc    geo.Location
		pinned bool
		meta   map[string]string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a favorite location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fav, err := appFrom(cmd).favorites.Add(cmd.Context(), loc, favorites.AddOptions{Pinned: pinned, Metadata: meta})
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd, fav)
			}
			cmd.Printf("Added %s\n", fav.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&loc.Name, "name", "", "place name")
	cmd.Flags().StringVar(&loc.Country, "country", "", "country code")
	cmd.Flags().StringVar(&loc.State, "state", "", "state or region")
	cmd.Flags().Float64Var(&loc.Lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&loc.Lon, "lon", 0, "longitude")
	cmd.Flags().BoolVar(&pinned, "pin", false, "pin to the top")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata key=value pairs")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func newFavoritesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := appFrom(cmd).favorites.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("favorite %q not found", args[0])
			}
			cmd.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func newFavoritesPinCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pin ID",
		Short: "Toggle the pinned flag of a favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fav, err := appFrom(cmd).favorites.TogglePin(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd, fav)
			}
			printFavorite(cmd, fav)
			return nil
		},
	}
}

func newFavoritesViewCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "view ID",
		Short: "Record a view of a favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fav, err := appFrom(cmd).favorites.UpdateViewCount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd, fav)
			}
			printFavorite(cmd, fav)
			return nil
		},
	}
}

func newFavoritesReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder ID...",
		Short: "Set a manual order; every favorite id must be listed once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return appFrom(cmd).favorites.Reorder(cmd.Context(), args)
		},
	}
}

func newFavoritesExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export favorites and metrics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := appFrom(cmd).favorites.Export(cmd.Context())
			if err != nil {
				return err
			}
			if out == "" {
				return printJSON(cmd, data)
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			cmd.SetOut(f)
			return printJSON(cmd, data)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a file instead of stdout")
	return cmd
}

func newFavoritesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Replace favorites with an export file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data favorites.ExportData
			if err := readJSONFile(cmd, args[0], &data); err != nil {
				return fmt.Errorf("read export: %w", err)
			}
			kept, err := appFrom(cmd).favorites.Import(cmd.Context(), data)
			if err != nil {
				return err
			}
			cmd.Printf("Imported %d of %d favorites\n", kept, len(data.Favorites))
			return nil
		},
	}
}

func newFavoritesClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every favorite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := appFrom(cmd).favorites.Clear(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Cleared favorites.")
			return nil
		},
	}
}

func newFavoritesWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print favorites changes made by other instances until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := appFrom(cmd).favorites
			if err := svc.Initialize(cmd.Context()); err != nil {
				return err
			}
			unsubscribe := svc.Subscribe(func(e favorites.Event) {
				if opts.asJSON {
					_ = printJSON(cmd, e)
					return
				}
				cmd.Printf("%s: +%d -%d ~%d (count %d)\n",
					e.Type, len(e.Diff.Added), len(e.Diff.Removed), len(e.Diff.Updated), e.Count)
			})
			defer unsubscribe()
			<-cmd.Context().Done()
			return nil
		},
	}
}

func printFavorite(cmd *cobra.Command, f favorites.Favorite) {
	var flags []string
	if f.IsPinned {
		flags = append(flags, "pinned")
	}
	if f.ViewCount > 0 {
		flags = append(flags, fmt.Sprintf("%d views", f.ViewCount))
	}
	line := fmt.Sprintf("%s  %s (%s)", f.ID, geo.Format(f.Location), geo.FormatCoordinates(f.Lat, f.Lon))
	if len(flags) > 0 {
		line += "  [" + strings.Join(flags, ", ") + "]"
	}
	cmd.Println(line)
}
