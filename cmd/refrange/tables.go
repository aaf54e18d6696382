package main

import (
	"strconv"
	"strings"

	"github.com/ehr/refrange/internal/domain/catalogversion"
	"github.com/ehr/refrange/internal/domain/refrange"
	"github.com/ehr/refrange/internal/platform/db"
	"github.com/ehr/refrange/internal/platform/output"
)

// planTable lays out a pass result: a summary and one row per change.
type planTable struct {
	res *refrange.Result
}

func (t planTable) Tables() []output.Data {
	r := t.res
	mode := "dry-run"
	if r.Applied {
		mode = "applied"
	}
	summary := output.Data{
		Title:        "Pass " + string(r.Kind) + " (" + mode + ")",
		Headers:      []string{"Matched", "Insert", "Update", "Delete", "Skip", "Warn"},
		Rows:         [][]string{{itoa(r.Matched), itoa(r.Inserted), itoa(r.Updated), itoa(r.Deleted), itoa(r.Skipped), itoa(r.Warnings)}},
		RightAligned: []int{0, 1, 2, 3, 4, 5},
	}
	if r.Error != "" {
		summary.Rows[0] = append(summary.Rows[0], r.Error)
		summary.Headers = append(summary.Headers, "Error")
	}
	if len(r.Items) == 0 {
		return []output.Data{summary}
	}

	items := output.Data{
		Headers: []string{"Action", "Analysis", "Parameter", "Sex", "Ages", "Value", "Target", "Status / Reason"},
	}
	for _, c := range r.Items {
		row := []string{string(c.Action), c.Analysis, c.Parameter, "", "", "", "", note(c)}
		if c.Range != nil {
			row[3] = string(c.Range.Sex)
			row[4] = c.Range.Interval().String()
			row[5] = c.Range.ValueString()
		}
		if c.Target != nil {
			row[6] = string(c.Target.Sex) + " " + c.Target.Interval().String()
		}
		items.Rows = append(items.Rows, row)
	}
	return []output.Data{summary, items}
}

func note(c *refrange.Change) string {
	switch {
	case c.Status != "" && c.Reason != "":
		return c.Status + ": " + c.Reason
	case c.Status != "":
		return c.Status
	}
	return c.Reason
}

// auditTable lays out a detector report.
type auditTable struct {
	rep *refrange.Report
}

func (t auditTable) Tables() []output.Data {
	r := t.rep
	tables := []output.Data{{
		Title:        "Audit",
		Headers:      []string{"Parameters", "Ranges", "High", "Warn", "Rejected", "Notes"},
		Rows:         [][]string{{itoa(r.Parameters), itoa(r.Ranges), itoa(r.High), itoa(r.Warn), itoa(len(r.Rejected)), itoa(len(r.Notes))}},
		RightAligned: []int{0, 1, 2, 3, 4, 5},
	}}

	if len(r.Issues) > 0 {
		issues := output.Data{Headers: []string{"Severity", "Kind", "Analysis", "Parameter", "Sex", "A", "B", "Detail"}}
		for _, is := range r.Issues {
			issues.Rows = append(issues.Rows, []string{
				is.Kind.Severity(), string(is.Kind), is.Analysis, is.Parameter, string(is.Sex),
				intervalString(is.A), intervalString(is.B), is.Detail,
			})
		}
		tables = append(tables, issues)
	}
	if rows := rejectedRows(r.Rejected); len(rows) > 0 {
		tables = append(tables, output.Data{Title: "Rejected rows", Headers: []string{"Analysis", "Parameter", "Range", "Reason"}, Rows: rows})
	}
	if rows := rejectedRows(r.Notes); len(rows) > 0 {
		tables = append(tables, output.Data{Title: "Notes", Headers: []string{"Analysis", "Parameter", "Range", "Note"}, Rows: rows})
	}
	return tables
}

func rejectedRows(in []refrange.RejectedRow) [][]string {
	var rows [][]string
	for _, rj := range in {
		rows = append(rows, []string{rj.Analysis, rj.Parameter, rj.RangeID.String(), rj.Reason})
	}
	return rows
}

func intervalString(iv *refrange.Interval) string {
	if iv == nil {
		return ""
	}
	return iv.String()
}

// commitTable lays out a versioning run and, when showDiff is set, the diff.
type commitTable struct {
	res      *catalogversion.CommitResult
	showDiff bool
}

func (t commitTable) Tables() []output.Data {
	r := t.res
	state := "unchanged"
	switch {
	case r.Committed:
		state = "committed"
	case r.Changed:
		state = "changed (not committed)"
	}
	tables := []output.Data{{
		Title:        "Catalog version",
		Headers:      []string{"Version", "State", "Hash", "Items", "Ranges"},
		Rows:         [][]string{{itoa(r.Version), state, r.Hash, itoa(r.Items), itoa(r.Ranges)}},
		RightAligned: []int{0, 3, 4},
	}}
	if t.showDiff && !r.Diff.Empty() {
		tables = append(tables, diffTable(r.Diff))
	}
	return tables
}

func diffTable(d *catalogversion.Diff) output.Data {
	data := output.Data{Title: "Changes", Headers: []string{"Analysis", "Change", "Parameters"}}
	for _, a := range d.AddedAnalyses {
		data.Rows = append(data.Rows, []string{a, "analysis added", ""})
	}
	for _, a := range d.RemovedAnalyses {
		data.Rows = append(data.Rows, []string{a, "analysis removed", ""})
	}
	for _, ad := range d.Analyses {
		for _, ch := range []struct {
			label string
			names []string
		}{
			{"parameters added", ad.AddedParameters},
			{"parameters removed", ad.RemovedParameters},
			{"ranges changed", ad.ChangedParameters},
		} {
			if len(ch.names) > 0 {
				data.Rows = append(data.Rows, []string{ad.Analysis, ch.label, strings.Join(ch.names, ", ")})
			}
		}
	}
	return data
}

// historyTable lists stored versions, newest first.
type historyTable struct {
	versions []*catalogversion.CatalogVersion
}

func (t historyTable) Tables() []output.Data {
	data := output.Data{
		Headers:      []string{"Version", "Hash", "Items", "Ranges", "Previous", "Created"},
		RightAligned: []int{0, 2, 3, 4},
	}
	for _, v := range t.versions {
		prev := ""
		if v.PreviousVersion != nil {
			prev = itoa(*v.PreviousVersion)
		}
		hash := v.HashSHA256
		if len(hash) > 12 {
			hash = hash[:12]
		}
		data.Rows = append(data.Rows, []string{
			itoa(v.VersionNumber), hash, itoa(v.ItemCount), itoa(v.RangeCount), prev,
			v.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return []output.Data{data}
}

// migrationTable lists the migration state of one schema.
type migrationTable struct {
	schema   string
	statuses []db.MigrationStatus
}

func (t migrationTable) Tables() []output.Data {
	data := output.Data{Title: "Schema " + t.schema, Headers: []string{"Version", "Name", "Status", "Applied at"}}
	for _, s := range t.statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		data.Rows = append(data.Rows, []string{itoa(s.Version), s.Name, status, appliedAt})
	}
	return []output.Data{data}
}

func itoa(n int) string { return strconv.Itoa(n) }
