package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskledger/pkg/domain"
)

// auditRow is the serialized form of an audit record on the CLI.
type auditRow struct {
	Seq       int64     `json:"seq" yaml:"seq"`
	Entity    string    `json:"entity" yaml:"entity"`
	EntityID  int64     `json:"entity_id" yaml:"entity_id"`
	OldStatus string    `json:"old_status,omitempty" yaml:"old_status,omitempty"`
	NewStatus string    `json:"new_status" yaml:"new_status"`
	Actor     string    `json:"actor" yaml:"actor"`
	TxID      string    `json:"tx_id" yaml:"tx_id"`
	Timestamp time.Time `json:"ts" yaml:"ts"`
}

func newAuditCommand(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "audit [<entity> <id>]",
		Short: "Show the status transitions of an entity",
		Long: `Show audit records in insertion order. Entity is one of task, invoice or
project. With --all every record of every entity is listed.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref *domain.Ref
			if !all {
				r, err := parseRef(args[0], args[1])
				if err != nil {
					return err
				}
				ref = &r
			}
			return opts.withApp(cmd, func(_ context.Context, a *app) error {
				var records []domain.AuditRecord
				if ref != nil {
					if _, err := a.svc.Store().Lookup(*ref); err != nil {
						return err
					}
					records = a.svc.AuditTrail(*ref)
				} else {
					records = a.svc.Audit().All()
				}
				out := make([]auditRow, 0, len(records))
				rows := make([]table.Row, 0, len(records))
				for _, r := range records {
					row := auditRow{
						Seq: r.Seq, Entity: string(r.Entity), EntityID: r.EntityID,
						OldStatus: r.OldStatus, NewStatus: r.NewStatus,
						Actor: r.Actor, TxID: r.TxID, Timestamp: r.Timestamp,
					}
					out = append(out, row)
					old := row.OldStatus
					if old == "" {
						old = "-"
					}
					rows = append(rows, table.Row{row.Seq, fmt.Sprintf("%s:%d", row.Entity, row.EntityID), old, row.NewStatus, row.Actor, row.TxID, row.Timestamp.Format(time.RFC3339Nano)})
				}
				return a.render(out, table.Row{"Seq", "Entity", "From", "To", "Actor", "Tx", "At"}, rows)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list the whole audit log")
	return cmd
}

func parseRef(entity, id string) (domain.Ref, error) {
	et := domain.EntityType(strings.ToLower(entity))
	if !et.Valid() {
		return domain.Ref{}, fmt.Errorf("unknown entity %q", entity)
	}
	n, err := parseID(id)
	if err != nil {
		return domain.Ref{}, err
	}
	return domain.Ref{Entity: et, ID: n}, nil
}
