// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

func newDrainCmd(c *cli) *cobra.Command {
	var ignoreBackoff bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver queued local changes once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Recover(cmd.Context()); err != nil {
				return err
			}
			reports, err := a.engine.DrainAll(cmd.Context(), offsync.DrainOptions{IgnoreBackoff: ignoreBackoff})
			printDrainReports(cmd.OutOrStdout(), a.engine.Types(), reports)
			return err
		},
	}
	cmd.Flags().BoolVar(&ignoreBackoff, "ignore-backoff", false, "also attempt entries whose retry delay has not elapsed")
	return cmd
}

func newPullCmd(c *cli) *cobra.Command {
	var scopes map[string]string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Merge the server state into the local store",
		Long: `Fetch every registered collection and merge it into the local store.
Records with unsent local changes are never overwritten.

Scoped types pull only their scope when one is given:
  offsyncd pull --scope invitation=<cooperation id> --scope digitalisation_level=<dimension id>`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			merged := maps.Clone(a.cfg.Sync.Scopes)
			if merged == nil {
				merged = make(map[string]string)
			}
			maps.Copy(merged, scopes)

			reports, err := a.engine.PullAll(cmd.Context(), merged)
			printMergeReports(cmd.OutOrStdout(), a.engine.Types(), reports)
			return err
		},
	}
	cmd.Flags().StringToStringVar(&scopes, "scope", nil, "entity_type=scope pairs")
	return cmd
}

func newQueueCmd(c *cli) *cobra.Command {
	var (
		entityType string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued local changes in delivery order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var entries []*offsync.QueueEntry
			err = a.store.View(cmd.Context(), func(ctx context.Context, tx offsync.Tx) error {
				var err error
				entries, err = tx.ListEntries(ctx, offsync.EntryFilter{EntityType: entityType, Limit: limit})
				return err
			})
			if err != nil {
				return err
			}
			printQueue(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "only list entries of this entity type")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of entries to list")
	return cmd
}

func newStatusCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth and record statuses per entity type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.engine.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "offsyncd %s\n", version)
		},
	}
}

func printDrainReports(w io.Writer, types []string, reports map[string]offsync.DrainReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tDELIVERED\tDEAD\tRETRIED\tDEFERRED\tWAITING\tABORTED")
	for _, t := range types {
		r, ok := reports[t]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", t, r.Delivered, r.Dead, r.Retried, r.Deferred, r.Waiting, r.Aborted)
	}
	_ = tw.Flush()
}

func printMergeReports(w io.Writer, types []string, reports map[string]offsync.MergeReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tINSERTED\tOVERWRITTEN\tKEPT\tREMOVED")
	for _, t := range types {
		r, ok := reports[t]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", t, r.Inserted, r.Overwritten, r.Kept, r.Removed)
	}
	_ = tw.Flush()
}

func printQueue(w io.Writer, entries []*offsync.QueueEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTYPE\tID\tACTION\tSTATE\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
	for _, e := range entries {
		next := "now"
		if !e.NextAttemptAt.IsZero() {
			next = e.NextAttemptAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.EntityType, e.EntityID, e.Action, e.State, e.Attempts, next, e.LastError)
	}
	_ = tw.Flush()
}

func printStats(w io.Writer, stats []offsync.TypeStats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tRECORDS\tQUEUED\tIN FLIGHT\tRETRYING\tSTATUSES")
	for _, s := range stats {
		statuses := make([]string, 0, len(s.ByStatus))
		for status, n := range s.ByStatus {
			statuses = append(statuses, fmt.Sprintf("%s=%d", status, n))
		}
		sort.Strings(statuses)
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%v\n", s.EntityType, s.Records, s.Queued, s.InFlight, s.Retrying, statuses)
	}
	_ = tw.Flush()
}
