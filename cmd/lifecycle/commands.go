package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/auditarchive"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/billing"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/sequences"
)

// jobs is the part of the lifecycle runner the CLI drives.
type jobs interface {
	Sequences(ctx context.Context) (sequences.Summary, bool, error)
	Intake(ctx context.Context) (sequences.Summary, bool, error)
	Expiry(ctx context.Context) (billing.SweepResult, bool, error)
	ExportAudit(ctx context.Context, day time.Time) (auditarchive.Result, error)
}

type opener func(ctx context.Context) (jobs, func(), error)

func newRootCmd(open opener) *cobra.Command {
	var (
		runner  jobs
		closeFn func()
	)

	rootCmd := &cobra.Command{
		Use:           "lifecycle",
		Short:         "Run one lifecycle job against the configured database and exit",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			r, c, err := open(cmd.Context())
			if err != nil {
				return err
			}
			runner, closeFn = r, c
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if closeFn != nil {
				closeFn()
			}
		},
	}

	get := func() jobs { return runner }
	rootCmd.AddCommand(
		newSequencesCmd(get),
		newIntakeCmd(get),
		newSweepCmd(get),
		newAuditExportCmd(get),
	)
	return rootCmd
}

func newSequencesCmd(get func() jobs) *cobra.Command {
	return &cobra.Command{
		Use:   "sequences",
		Short: "Send due sequence messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, _, err := get().Sequences(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, sum)
		},
	}
}

func newIntakeCmd(get func() jobs) *cobra.Command {
	return &cobra.Command{
		Use:   "intake",
		Short: "Enroll inactive and newly signed up users into sequences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, _, err := get().Intake(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, sum)
		},
	}
}

func newSweepCmd(get func() jobs) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Downgrade entitlements whose paid period has ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, _, err := get().Expiry(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, res)
		},
	}
}

func newAuditExportCmd(get func() jobs) *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "audit-export",
		Short: "Archive one UTC day of audit rows to object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := time.Now().UTC().AddDate(0, 0, -1)
			if day != "" {
				parsed, err := time.Parse("2006-01-02", day)
				if err != nil {
					return fmt.Errorf("invalid --day %q: %w", day, err)
				}
				target = parsed
			}
			res, err := get().ExportAudit(cmd.Context(), target)
			if err != nil {
				return err
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "day to export as YYYY-MM-DD (default: yesterday)")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
