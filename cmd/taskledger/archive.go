package main

import (
	"context"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	blobcore "taskledger/internal/blob/core"
	"taskledger/internal/core"
)

func newArchiveCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy new audit records to the blob archive",
		Long: `Write every audit record newer than the last archived segment as one
JSON-lines object (audit/<first-seq>-<last-seq>.jsonl) to the configured blob
store (fs, s3 or memory).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchiver(opts, cmd, func(ctx context.Context, a *app, arch *core.AuditArchiver) error {
				res, err := arch.Export(ctx)
				if err != nil {
					return err
				}
				if res.Records == 0 {
					a.logger.Info("audit archive up to date")
				}
				return a.render(res, table.Row{"Key", "Records", "First", "Last"}, []table.Row{{res.Key, res.Records, res.FirstSeq, res.LastSeq}})
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived audit segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchiver(opts, cmd, func(ctx context.Context, a *app, arch *core.AuditArchiver) error {
				segments, err := arch.Segments(ctx)
				if err != nil {
					return err
				}
				if segments == nil {
					segments = []blobcore.Info{}
				}
				rows := make([]table.Row, 0, len(segments))
				for _, s := range segments {
					rows = append(rows, table.Row{s.Key, s.Size, s.LastModified.Format(time.RFC3339)})
				}
				return a.render(segments, table.Row{"Key", "Bytes", "Written"}, rows)
			})
		},
	})
	return cmd
}

func withArchiver(opts *rootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app, arch *core.AuditArchiver) error) error {
	return opts.withApp(cmd, func(ctx context.Context, a *app) error {
		store, err := a.openArchive(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, a, core.NewAuditArchiver(a.svc.Audit(), store, a.logger))
	})
}
