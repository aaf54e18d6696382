package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/refrange/internal/domain/catalogversion"
	"github.com/ehr/refrange/internal/domain/refrange"
	"github.com/ehr/refrange/internal/platform/db"
	"github.com/ehr/refrange/internal/platform/output"
)

// memRepo is a single-parameter in-memory range store.
type memRepo struct {
	param  refrange.ParameterRanges
	ranges []*refrange.ReferenceRange
}

func newTSHRepo() *memRepo {
	a := refrange.Analysis{ID: uuid.New(), Name: "Perfil Tiroideo"}
	p := refrange.Parameter{ID: uuid.New(), AnalysisID: a.ID, Name: "TSH"}
	m := &memRepo{param: refrange.ParameterRanges{Analysis: a, Parameter: p}}
	for _, iv := range [][2]float64{{0, 1}, {1, 12}, {65, 120}} {
		lo, hi := 0.5, 4.5
		m.ranges = append(m.ranges, &refrange.ReferenceRange{
			ID: uuid.New(), ParameterID: p.ID, Sex: refrange.SexBoth,
			AgeMin: iv[0], AgeMax: iv[1], AgeUnit: refrange.AgeUnitYears,
			Lower: &lo, Upper: &hi,
		})
	}
	return m
}

func (m *memRepo) copies() []*refrange.ReferenceRange {
	out := make([]*refrange.ReferenceRange, 0, len(m.ranges))
	for _, r := range m.ranges {
		c := r.Clone()
		c.ID = r.ID
		out = append(out, c)
	}
	return out
}

func (m *memRepo) LoadParameters(_ context.Context, f refrange.Filter) ([]*refrange.ParameterRanges, error) {
	if !f.Match(m.param.Analysis.Name, m.param.Parameter.Name) {
		return nil, nil
	}
	p := m.param
	p.Ranges = m.copies()
	return []*refrange.ParameterRanges{&p}, nil
}

func (m *memRepo) LoadAnalyses(_ context.Context) ([]refrange.Analysis, error) {
	return []refrange.Analysis{m.param.Analysis}, nil
}

func (m *memRepo) LoadRanges(_ context.Context, _ uuid.UUID) ([]*refrange.ReferenceRange, error) {
	return m.copies(), nil
}

func (m *memRepo) Insert(_ context.Context, r *refrange.ReferenceRange) error {
	c := r.Clone()
	c.ID = r.ID
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.ranges = append(m.ranges, c)
	return nil
}

func (m *memRepo) Update(_ context.Context, r *refrange.ReferenceRange) error {
	for _, cur := range m.ranges {
		if cur.ID == r.ID {
			cur.Sex, cur.AgeMin, cur.AgeMax = r.Sex, r.AgeMin, r.AgeMax
		}
	}
	return nil
}

func (m *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	for i, cur := range m.ranges {
		if cur.ID == id {
			m.ranges = append(m.ranges[:i], m.ranges[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{
		"audit", "fill-gaps", "split-ambos", "collapse-ambos", "force-sex",
		"snap-boundaries", "migrate-legacy", "catalog", "migrate", "tenant", "serve",
	}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("expected subcommand %s", name)
		}
	}
	for _, path := range [][]string{{"catalog", "version"}, {"catalog", "history"}, {"migrate", "up"}, {"migrate", "status"}, {"tenant", "create"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[1] {
			t.Errorf("expected subcommand %s", strings.Join(path, " "))
		}
	}
}

func TestRepairCmd_CommonFlags(t *testing.T) {
	root := newRootCmd()
	for _, def := range repairCommands {
		cmd, _, err := root.Find([]string{string(def.kind)})
		if err != nil {
			t.Fatalf("find %s: %v", def.kind, err)
		}
		for _, flag := range []string{"filter", "apply", "tenant", "output"} {
			if cmd.Flag(flag) == nil {
				t.Errorf("%s: missing --%s", def.kind, flag)
			}
		}
	}
}

func TestFillGapsHelp_DescribesSexes(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{string(refrange.KindFillGaps)})
	if err != nil {
		t.Fatalf("find fill-gaps: %v", err)
	}
	if !strings.Contains(cmd.Long, "both\nMasculino and Femenino are filled") {
		t.Errorf("fill-gaps help must describe which sexes are filled, got %q", cmd.Long)
	}
}

func TestForceSex_RequiresSexFlag(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"force-sex", "--filter", "embarazo"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "sex") {
		t.Fatalf("expected missing --sex error, got %v", err)
	}
}

func TestRepairFlags_Request(t *testing.T) {
	f := &repairFlags{filter: "TSH", apply: true, bands: "12-13, 64-65", minAge: -1, maxAge: -1}
	req, err := f.request(refrange.KindFillGaps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !req.Apply || req.Filter != "TSH" || req.Kind != refrange.KindFillGaps {
		t.Errorf("unexpected request %+v", req)
	}
	if len(req.Bands) != 2 || req.Bands[1] != (refrange.Interval{Min: 64, Max: 65}) {
		t.Errorf("unexpected bands %v", req.Bands)
	}
	if req.Band != nil {
		t.Errorf("expected no split band, got %v", req.Band)
	}

	f = &repairFlags{minAge: 18, maxAge: 120}
	req, err = f.request(refrange.KindSplitAmbos)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Band == nil || *req.Band != (refrange.Interval{Min: 18, Max: 120}) {
		t.Errorf("unexpected band %v", req.Band)
	}

	if _, err := (&repairFlags{minAge: 18, maxAge: -1}).request(refrange.KindSplitAmbos); err == nil {
		t.Error("expected error for --min without --max")
	}
	if _, err := (&repairFlags{bands: "13-12", minAge: -1, maxAge: -1}).request(refrange.KindFillGaps); err == nil {
		t.Error("expected error for an empty band")
	}
}

func TestRunRepair_DryRunTable(t *testing.T) {
	repo := newTSHRepo()
	svc := refrange.NewService(repo)
	var buf bytes.Buffer

	err := runRepair(context.Background(), svc, refrange.Request{Kind: refrange.KindFillGaps}, &buf, output.FormatTable)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "dry-run") || !strings.Contains(out, "[12,65)") {
		t.Errorf("expected dry-run plan with the [12,65) gap, got:\n%s", out)
	}
	if len(repo.ranges) != 3 {
		t.Errorf("dry run must not write, got %d ranges", len(repo.ranges))
	}
}

func TestRunRepair_ApplyShowsPlanFirst(t *testing.T) {
	repo := newTSHRepo()
	svc := refrange.NewService(repo)
	var buf bytes.Buffer

	err := runRepair(context.Background(), svc, refrange.Request{Kind: refrange.KindFillGaps, Apply: true}, &buf, output.FormatTable)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	preview, outcome := strings.Index(out, "dry-run"), strings.Index(out, "applied")
	if preview < 0 || outcome < 0 || preview > outcome {
		t.Errorf("expected plan preview before the applied outcome, got:\n%s", out)
	}
	if len(repo.ranges) != 4 {
		t.Errorf("expected one inserted range, got %d ranges", len(repo.ranges))
	}
}

func TestRunRepair_JSON(t *testing.T) {
	svc := refrange.NewService(newTSHRepo())
	var buf bytes.Buffer

	if err := runRepair(context.Background(), svc, refrange.Request{Kind: refrange.KindFillGaps}, &buf, output.FormatJSON); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res refrange.Result
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		t.Fatalf("expected a single JSON document, got %q: %v", buf.String(), err)
	}
	if !res.OK || res.Matched != 1 || res.Inserted != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunRepair_InputError(t *testing.T) {
	svc := refrange.NewService(newTSHRepo())
	var buf bytes.Buffer
	err := runRepair(context.Background(), svc, refrange.Request{Kind: refrange.KindForceSex, Sex: "M"}, &buf, output.FormatTable)
	if err == nil {
		t.Fatal("expected force-sex without a filter to fail")
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output on input error, got %q", buf.String())
	}
}

func TestAuditTable(t *testing.T) {
	a, b := refrange.Interval{Min: 0, Max: 18}, refrange.Interval{Min: 12, Max: 120}
	rep := &refrange.Report{
		Parameters: 1, Ranges: 2, High: 1,
		Issues: []refrange.Issue{{
			Analysis: "Hemograma", Parameter: "Hemoglobina", Sex: refrange.SexMale,
			Kind: refrange.IssueOverlapSameSex, A: &a, B: &b, Detail: "overlap [12,18)",
		}},
	}
	var buf bytes.Buffer
	if err := render(&buf, output.FormatTable, rep, auditTable{rep: rep}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"HIGH_OVERLAP_SAME_SEX", "Hemoglobina", "[0,18)", "[12,120)"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in audit table:\n%s", want, buf.String())
		}
	}
}

func TestCommitTable_ShowDiff(t *testing.T) {
	res := &catalogversion.CommitResult{
		Changed: true, Committed: true, Version: 2, Hash: strings.Repeat("a", 64), Items: 2, Ranges: 5,
		Diff: &catalogversion.Diff{Analyses: []catalogversion.AnalysisDiff{{Analysis: "Perfil Tiroideo", ChangedParameters: []string{"TSH"}}}},
	}

	var buf bytes.Buffer
	if err := render(&buf, output.FormatTable, res, commitTable{res: res, showDiff: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "committed") || !strings.Contains(buf.String(), "ranges changed") {
		t.Errorf("unexpected commit table:\n%s", buf.String())
	}

	buf.Reset()
	if err := render(&buf, output.FormatTable, res, commitTable{res: res}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "ranges changed") {
		t.Errorf("diff must be hidden without --show-diff:\n%s", buf.String())
	}
}

func TestHistoryTable(t *testing.T) {
	prev := 1
	versions := []*catalogversion.CatalogVersion{
		{VersionNumber: 2, HashSHA256: strings.Repeat("b", 64), ItemCount: 2, RangeCount: 5, PreviousVersion: &prev, CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{VersionNumber: 1, HashSHA256: strings.Repeat("a", 64), ItemCount: 2, RangeCount: 4, CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)},
	}
	tables := historyTable{versions: versions}.Tables()
	if len(tables) != 1 || len(tables[0].Rows) != 2 {
		t.Fatalf("unexpected tables %+v", tables)
	}
	row := tables[0].Rows[0]
	if row[0] != "2" || row[1] != strings.Repeat("b", 12) || row[4] != "1" || row[5] != "2026-03-01 10:00:00" {
		t.Errorf("unexpected row %v", row)
	}
	if tables[0].Rows[1][4] != "" {
		t.Errorf("first version has no previous, got %q", tables[0].Rows[1][4])
	}
}

func TestMigrationTable(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tables := migrationTable{schema: "tenant_default", statuses: []db.MigrationStatus{
		{Version: 1, Name: "001_catalog.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_reference_range.sql"},
	}}.Tables()
	rows := tables[0].Rows
	if rows[0][2] != "applied" || rows[0][3] != "2026-01-02 03:04:05" || rows[1][2] != "pending" {
		t.Errorf("unexpected rows %v", rows)
	}
}
