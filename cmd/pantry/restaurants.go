package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hyperengineering/pantry/pkg/pantry"
	"github.com/spf13/cobra"
)

var (
	filterCuisine      string
	filterNeighborhood string
	filterFavorites    bool
)

var restaurantsCmd = &cobra.Command{
	Use:   "restaurants",
	Short: "List restaurants",
	Long:  "List restaurants from the remote, or from the local cache when the remote is unreachable.",
	Args:  cobra.NoArgs,
	RunE:  runRestaurants,
}

var restaurantCmd = &cobra.Command{
	Use:   "restaurant <id>",
	Short: "Show one restaurant",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestaurant,
}

var cuisinesCmd = &cobra.Command{
	Use:   "cuisines",
	Short: "List the distinct cuisines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDistinct(cmd, (*pantry.Client).DistinctCategories)
	},
}

var neighborhoodsCmd = &cobra.Command{
	Use:   "neighborhoods",
	Short: "List the distinct neighborhoods",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDistinct(cmd, (*pantry.Client).DistinctGroupings)
	},
}

func init() {
	restaurantsCmd.Flags().StringVar(&filterCuisine, "cuisine", pantry.Wildcard,
		"Only restaurants of this cuisine")
	restaurantsCmd.Flags().StringVar(&filterNeighborhood, "neighborhood", pantry.Wildcard,
		"Only restaurants in this neighborhood")
	restaurantsCmd.Flags().BoolVar(&filterFavorites, "favorites", false,
		"Only favorite restaurants")
}

func runRestaurants(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := openClient(ctx, false)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	var entities []pantry.Entity
	switch {
	case filterFavorites:
		entities, err = c.FetchFavorites(ctx)
	case filterNeighborhood == pantry.Wildcard && filterCuisine != pantry.Wildcard:
		entities, err = c.FetchByCategory(ctx, filterCuisine)
	case filterCuisine == pantry.Wildcard && filterNeighborhood != pantry.Wildcard:
		entities, err = c.FetchByGrouping(ctx, filterNeighborhood)
	default:
		entities, err = c.FetchByCategoryAndGrouping(ctx, filterCuisine, filterNeighborhood)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"restaurants": entities,
			"total":       len(entities),
		})
	}

	if len(entities) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No restaurants found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tNAME\tCUISINE\tNEIGHBORHOOD\tFAVORITE")
	for _, e := range entities {
		fav := ""
		if e.IsFavorite {
			fav = "★"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.Name, orDash(e.CuisineType), orDash(e.Neighborhood), fav)
	}
	return w.Flush()
}

func runRestaurant(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	c, err := openClient(ctx, false)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	e, err := c.FetchByID(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, e)
	}

	fmt.Fprintf(out, "Restaurant:    %d\n", e.ID)
	fmt.Fprintf(out, "Name:          %s\n", e.Name)
	fmt.Fprintf(out, "Cuisine:       %s\n", orDash(e.CuisineType))
	fmt.Fprintf(out, "Neighborhood:  %s\n", orDash(e.Neighborhood))
	fmt.Fprintf(out, "Address:       %s\n", orDash(e.Address))
	fmt.Fprintf(out, "Photo:         %s\n", e.PhotoRef())
	fmt.Fprintf(out, "Favorite:      %t\n", bool(e.IsFavorite))
	fmt.Fprintf(out, "Updated:       %s\n", ago(e.UpdatedAt.Time))
	return nil
}

func runDistinct(cmd *cobra.Command, list func(*pantry.Client, context.Context) ([]string, error)) error {
	ctx := cmd.Context()

	c, err := openClient(ctx, false)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	values, err := list(c, ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), values)
	}
	for _, v := range values {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", s)
	}
	return id, nil
}
