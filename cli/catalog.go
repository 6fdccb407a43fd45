package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"github.com/opal-lang/datacube/core/plan"
	"github.com/opal-lang/datacube/runtime/gdf"
)

func (a *app) catalogCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Index and search storage-unit footprints",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "DuckDB database (default: catalog.dsn from config)")

	open := func(cmd *cobra.Command) (*gdf.Catalog, error) {
		d := dsn
		if d == "" {
			d = a.cfg.Catalog.DSN
		}
		return gdf.OpenCatalog(cmd.Context(), d)
	}

	index := &cobra.Command{
		Use:   "index UNITS",
		Short: "Record the footprints of a JSON file of storage units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := readUnits(args[0])
			if err != nil {
				return err
			}
			cat, err := open(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()
			for i := range units {
				if err := cat.IndexUnit(cmd.Context(), &units[i]); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintf(a.stdout, "indexed %d storage units\n", len(units))
			return nil
		},
	}

	var (
		bbox string
		span string
	)
	search := &cobra.Command{
		Use:   "search STORAGE_TYPE",
		Short: "List units of a storage type by footprint and time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var bound *orb.Bound
			if bbox != "" {
				v, err := parseFloats(bbox, 4)
				if err != nil {
					return &CLIError{Type: "usage", Message: fmt.Sprintf("--bbox: %v", err), Hint: "use --bbox minx,miny,maxx,maxy"}
				}
				bound = &orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
			}
			var timeRange *plan.Range
			if span != "" {
				v, err := parseFloats(span, 2)
				if err != nil {
					return &CLIError{Type: "usage", Message: fmt.Sprintf("--time: %v", err), Hint: "use --time lo,hi"}
				}
				timeRange = &plan.Range{Lo: v[0], Hi: v[1]}
			}

			cat, err := open(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()
			records, err := cat.SearchUnits(cmd.Context(), args[0], bound, timeRange)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tTIME\tBOUNDS")
			for _, r := range records {
				_, _ = fmt.Fprintf(tw, "%s\t%g\t%s\n", r.ID, r.Time, formatBound(r.Bounds))
			}
			return tw.Flush()
		},
	}
	search.Flags().StringVar(&bbox, "bbox", "", "Footprint filter: minx,miny,maxx,maxy")
	search.Flags().StringVar(&span, "time", "", "Time filter: lo,hi")

	types := &cobra.Command{
		Use:   "types",
		Short: "List indexed storage types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := open(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()
			summaries, err := cat.StorageTypes(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "STORAGE TYPE\tUNITS\tBOUNDS")
			for _, s := range summaries {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Name, s.Units, formatBound(s.Bounds))
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(index, search, types)
	return cmd
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated numbers, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func formatBound(b orb.Bound) string {
	return fmt.Sprintf("[%g %g, %g %g]", b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
}
