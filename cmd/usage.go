package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/store"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect or reset the persisted kill switch",
}

// -- usage show --

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the persisted provider flags",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		flags, err := st.GetProviderFlags(ctx)
		if err != nil {
			return eris.Wrap(err, "usage show")
		}

		gov := newGovernor(cfg, st)
		if err := gov.Load(ctx); err != nil {
			return eris.Wrap(err, "usage show")
		}

		formatFlags(cmd.OutOrStdout(), flags, gov.Snapshot())
		if reason := lockReason(cfg, gov); reason != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nLOCKED: %s\n", reason)
		}
		return nil
	},
}

// -- usage reset --

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Re-enable every provider and zero the counters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		gov := newGovernor(cfg, st)
		if err := gov.Reset(ctx); err != nil {
			return eris.Wrap(err, "usage reset")
		}

		flags, err := st.GetProviderFlags(ctx)
		if err != nil {
			return eris.Wrap(err, "usage reset")
		}
		formatFlags(cmd.OutOrStdout(), flags, gov.Snapshot())
		return nil
	},
}

// formatFlags writes one row per provider: the persisted flag, the
// configured allow switch, and the configured limits.
func formatFlags(w io.Writer, flags map[string]bool, snap governor.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tPERSISTED\tALLOWED\tMAX CALLS\tMAX ERRORS")

	names := make([]string, 0, len(snap.Providers))
	for _, u := range snap.Providers {
		names = append(names, string(u.Provider))
	}
	slices.Sort(names)

	for _, name := range names {
		u := snap.Usage(governor.Provider(name))
		persisted := "-"
		if v, ok := flags[name]; ok {
			persisted = fmt.Sprintf("%t", v)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\n", name, persisted, u.Allowed, u.MaxCalls, u.MaxErrors)
	}
	_ = tw.Flush()
}

func init() {
	usageCmd.AddCommand(usageShowCmd, usageResetCmd)
	rootCmd.AddCommand(usageCmd)
}
