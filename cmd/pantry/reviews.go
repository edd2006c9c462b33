package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/pantry/pkg/pantry"
	"github.com/spf13/cobra"
)

var (
	reviewName    string
	reviewRating  int
	reviewComment string
	favoriteOff   bool
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews <restaurant-id>",
	Short: "List the reviews of a restaurant",
	Long:  "List the reviews of a restaurant. Reviews still waiting for the remote are shown as pending.",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviews,
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Write reviews",
}

var reviewAddCmd = &cobra.Command{
	Use:   "add <restaurant-id>",
	Short: "Submit a review",
	Long:  "Submit a review. When the remote is unreachable the review is queued and replayed later.",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewAdd,
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite <restaurant-id>",
	Short: "Mark a restaurant as favorite",
	Args:  cobra.ExactArgs(1),
	RunE:  runFavorite,
}

func init() {
	reviewAddCmd.Flags().StringVar(&reviewName, "name", "", "Reviewer name (required)")
	reviewAddCmd.Flags().IntVar(&reviewRating, "rating", 0, "Rating from 1 to 5 (required)")
	reviewAddCmd.Flags().StringVar(&reviewComment, "comment", "", "Review text (required)")
	reviewCmd.AddCommand(reviewAddCmd)

	favoriteCmd.Flags().BoolVar(&favoriteOff, "off", false, "Remove the favorite mark instead")
}

func runReviews(cmd *cobra.Command, args []string) error {
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

	reviews, err := c.FetchCommentsFor(ctx, id)
	if err != nil && !errors.Is(err, pantry.ErrNotFoundLocally) {
		return err
	}
	pending, err := c.PendingComments(ctx, id)
	if err != nil {
		return err
	}

	if jsonOutput {
		if reviews == nil {
			reviews = []pantry.Comment{}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"reviews": reviews,
			"pending": pending,
		})
	}

	if len(reviews)+len(pending) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No reviews found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tNAME\tRATING\tWHEN\tCOMMENT")
	for _, r := range reviews {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", r.ID, r.Name, int64(r.Rating), ago(r.CreatedAt.Time), truncate(r.Comments, 60))
	}
	for _, r := range pending {
		fmt.Fprintf(w, "pending\t%s\t%d\t%s\t%s\n", r.Name, int64(r.Rating), ago(r.CreatedAt.Time), truncate(r.Comments, 60))
	}
	return w.Flush()
}

func runReviewAdd(cmd *cobra.Command, args []string) error {
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

	sub, err := c.SubmitComment(ctx, pantry.NewComment{
		RestaurantID: pantry.FlexInt(id),
		Name:         reviewName,
		Rating:       pantry.FlexInt(int64(reviewRating)),
		Comments:     reviewComment,
	})
	if err != nil {
		var verrs pantry.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("review rejected: %s", describeValidation(verrs))
		}
		if sub == nil {
			return err
		}
	}
	return reportSubmission(cmd, sub, err)
}

func runFavorite(cmd *cobra.Command, args []string) error {
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

	sub, err := c.SetFavorite(ctx, id, !favoriteOff)
	if err != nil && sub == nil {
		return err
	}
	return reportSubmission(cmd, sub, err)
}

// reportSubmission prints the outcome of a write. persistErr is set when the
// remote confirmed but the local copy could not be updated.
func reportSubmission(cmd *cobra.Command, sub *pantry.Submission, persistErr error) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, sub); err != nil {
			return err
		}
		return persistErr
	}

	switch sub.State {
	case pantry.StateConfirmed:
		switch {
		case sub.Comment != nil:
			fmt.Fprintf(out, "Review %d saved.\n", sub.Comment.ID)
		case sub.Entity != nil:
			fmt.Fprintf(out, "Restaurant %d favorite: %t\n", sub.Entity.ID, bool(sub.Entity.IsFavorite))
		}
	case pantry.StateQueued:
		fmt.Fprintf(out, "Remote unreachable; queued as pending write %d.\n", sub.Pending.ID)
	}
	return persistErr
}

func describeValidation(verrs pantry.ValidationErrors) string {
	parts := make([]string, len(verrs))
	for i, e := range verrs {
		parts[i] = e.Field + " " + e.Message
	}
	return strings.Join(parts, "; ")
}
