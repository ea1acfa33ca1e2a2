package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goforj/geostate/geo"
	"github.com/goforj/geostate/location"
)

func newLocationCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "location",
		Aliases: []string{"loc"},
		Short:   "Geolocation and geocoding lookups",
	}
	cmd.AddCommand(
		newLocationSearchCmd(opts),
		newLocationReverseCmd(opts),
		newLocationCurrentCmd(opts),
		newLocationDistanceCmd(),
	)
	return cmd
}

func newLocationSearchCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Forward-geocode a place name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			results, err := a.location.SearchLocations(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if err := a.state.CacheLocations(cmd.Context(), args[0], results); err != nil {
				a.logger.Warn("failed to cache search results", "err", err)
			}
			return printLocations(cmd, opts, results)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of results")
	return cmd
}

func newLocationReverseCmd(opts *options) *cobra.Command {
	var (
		lat, lon float64
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "reverse --lat LAT --lon LON",
		Short: "Reverse-geocode coordinates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results, err := appFrom(cmd).location.ReverseGeocode(cmd.Context(), lat, lon, limit)
			if err != nil {
				return err
			}
			return printLocations(cmd, opts, results)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().IntVarP(&limit, "limit", "n", 1, "maximum number of results")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func newLocationCurrentCmd(opts *options) *cobra.Command {
	var popts location.PositionOptions
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Resolve the current position, falling back to the last known one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			details, err := a.location.CurrentLocationWithDetails(cmd.Context(), popts)
			if err != nil {
				return err
			}
			if details.Location != nil {
				if err := a.state.SetCurrentLocation(cmd.Context(), details.Location); err != nil {
					a.logger.Warn("failed to record current location", "err", err)
				}
			}
			if opts.asJSON {
				return printJSON(cmd, details)
			}
			cmd.Println(details.Formatted)
			if details.Fallback {
				cmd.Println("(last known location)")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&popts.EnableHighAccuracy, "high-accuracy", false, "request a high accuracy fix")
	cmd.Flags().DurationVar(&popts.Timeout, "timeout", 0, "position timeout")
	cmd.Flags().DurationVar(&popts.MaximumAge, "max-age", 0, "accept a cached position up to this age")
	return cmd
}

func newLocationDistanceCmd() *cobra.Command {
	var from, to geo.Coordinates
	cmd := &cobra.Command{
		Use:   "distance --from-lat LAT --from-lon LON --to-lat LAT --to-lon LON",
		Short: "Great-circle distance in kilometers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, c := range []geo.Coordinates{from, to} {
				if !c.Valid() {
					return fmt.Errorf("invalid coordinates %s", geo.FormatCoordinates(c.Latitude, c.Longitude))
				}
			}
			km := appFrom(cmd).location.CalculateDistance(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
			cmd.Printf("%.1f km\n", km)
			return nil
		},
	}
	cmd.Flags().Float64Var(&from.Latitude, "from-lat", 0, "origin latitude")
	cmd.Flags().Float64Var(&from.Longitude, "from-lon", 0, "origin longitude")
	cmd.Flags().Float64Var(&to.Latitude, "to-lat", 0, "destination latitude")
	cmd.Flags().Float64Var(&to.Longitude, "to-lon", 0, "destination longitude")
	for _, name := range []string{"from-lat", "from-lon", "to-lat", "to-lon"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func printLocations(cmd *cobra.Command, opts *options, results []geo.Location) error {
	if opts.asJSON {
		return printJSON(cmd, results)
	}
	for _, l := range results {
		cmd.Printf("%s (%s)\n", geo.Format(l), geo.FormatCoordinates(l.Lat, l.Lon))
	}
	return nil
}
