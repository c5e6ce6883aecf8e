package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ratemystay/internal/client"
	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/scroll"
)

func newBrowseCmd() *cobra.Command {
	var (
		serverURL  string
		campusID   string
		categories []string
		maxDist    int
		pages      int
	)

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Page through a campus's listings from a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := fromContext(cmd.Context())
			if err != nil {
				return err
			}
			if campusID == "" {
				return fmt.Errorf("--campus is required")
			}
			var filter housing.Filter
			for _, raw := range categories {
				c, err := housing.ParseCategory(raw)
				if err != nil {
					return err
				}
				filter.Categories = append(filter.Categories, c)
			}
			if maxDist > 0 {
				filter.MaxDistance = &maxDist
			}

			c, err := client.New(client.Config{BaseURL: serverURL, Timeout: 10 * time.Second})
			if err != nil {
				return err
			}
			ctrl := scroll.New(cmd.Context(), c, rt.cfg.PagingMode(), rt.cfg.Query.PageSize, rt.logger)
			defer ctrl.Close()

			return browse(cmd.OutOrStdout(), ctrl, scroll.Query{CampusID: campusID, Filter: filter}, pages)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of a running server")
	cmd.Flags().StringVar(&campusID, "campus", "", "campus id to browse")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "categories to include (repeatable)")
	cmd.Flags().IntVar(&maxDist, "max-distance", 0, "maximum distance in meters")
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to load")
	return cmd
}

// browse loads up to pages pages by simulating a scroll to the bottom after each one.
func browse(out io.Writer, ctrl *scroll.Controller, q scroll.Query, pages int) error {
	ctrl.Submit(q)
	ctrl.Wait()
	for loaded := 1; loaded < pages; loaded++ {
		snap := ctrl.Snapshot()
		if snap.Err != nil || !snap.HasMore {
			break
		}
		ctrl.OnScroll(scroll.Viewport{ContentHeight: 1, ViewportHeight: 1})
		ctrl.Wait()
	}

	snap := ctrl.Snapshot()
	if snap.Err != nil {
		return fmt.Errorf("load listings: %w", snap.Err)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISTANCE\tCATEGORY\tNAME\tCITY")
	for _, l := range snap.Results {
		fmt.Fprintf(tw, "%dm\t%s\t%s\t%s\n", l.DistanceMeters, l.Category, l.Name, l.Address.City)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write listings: %w", err)
	}
	if snap.HasMore {
		fmt.Fprintf(out, "%d listings shown, more available\n", len(snap.Results))
	}
	return nil
}
