package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/backend"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/idempotency"
)

// NewClaimsCommand creates the claims command group.
func NewClaimsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Inspect idempotency claims",
	}
	cmd.AddCommand(newClaimsListCommand(rootOpts))
	return cmd
}

func newClaimsListCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List claims that never completed",
		Long: `List idempotency records still in the claimed state.

A claim whose request crashed between claiming and completing stays claimed
forever, and every retry with the same key gets a conflict. Use --older-than
to hide claims that may still be in flight.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			store, err := backend.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			now := time.Now().UTC()
			records, err := store.Idempotency.ListClaimed(cmd.Context(), now.Add(-olderThan))
			if err != nil {
				return fmt.Errorf("list claims: %w", err)
			}
			return renderClaims(cmd.OutOrStdout(), rootOpts.Format, records, now)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "only list claims at least this old")
	return cmd
}

type claimView struct {
	ActorID    string    `json:"actor_id"`
	Key        string    `json:"idempotency_key"`
	ClaimedAt  time.Time `json:"claimed_at"`
	AgeSeconds int64     `json:"age_seconds"`
}

func renderClaims(w io.Writer, format string, records []idempotency.Record, now time.Time) error {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	if format == "json" {
		views := make([]claimView, 0, len(records))
		for _, r := range records {
			views = append(views, claimView{
				ActorID:    r.ActorID,
				Key:        string(r.Key),
				ClaimedAt:  r.CreatedAt.UTC(),
				AgeSeconds: int64(now.Sub(r.CreatedAt).Seconds()),
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no stuck claims")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTOR\tKEY\tCLAIMED AT\tAGE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.ActorID,
			r.Key,
			r.CreatedAt.UTC().Format(time.RFC3339),
			now.Sub(r.CreatedAt).Truncate(time.Second),
		)
	}
	return tw.Flush()
}
