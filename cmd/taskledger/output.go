package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// render writes v as JSON or YAML, or the given rows as a table.
func (a *app) render(v any, header table.Row, rows []table.Row) error {
	switch a.format {
	case "json":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := table.NewWriter()
		tw.SetOutputMirror(a.out)
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(header)
		tw.AppendRows(rows)
		tw.Render()
		return nil
	}
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateOnly)
}

func fmtMoney(d decimal.Decimal) string { return d.StringFixed(2) }

func fmtOptID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprint(*id)
}
