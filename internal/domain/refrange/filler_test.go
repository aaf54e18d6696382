package refrange

import "testing"

func TestPlanFill_TSHUsesPrecedingTemplate(t *testing.T) {
	p := paramWith(
		numeric(SexBoth, 0, 1, 0.7, 15.2),
		numeric(SexBoth, 1, 12, 0.7, 6.4),
		numeric(SexBoth, 65, 120, 0.5, 8.9),
	)

	gaps := Gaps(CoverageFor(p, SexBoth), DomainMin, DomainMax)
	if len(gaps) != 1 || gaps[0] != (Interval{12, 65}) {
		t.Fatalf("expected one gap [12,65), got %v", gaps)
	}

	changes := PlanFill(p, FillOptions{})
	if len(changes) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(changes))
	}
	fill := changes[0].Range
	if changes[0].Action != ActionInsert {
		t.Errorf("expected insert, got %s", changes[0].Action)
	}
	if fill.Interval() != (Interval{12, 65}) || fill.Sex != SexBoth {
		t.Errorf("unexpected fill %s %s", fill.Sex, fill.Interval())
	}
	if *fill.Lower != 0.7 || *fill.Upper != 6.4 {
		t.Errorf("expected values of [1,12), got %s", fill.ValueString())
	}
	if *fill.Notes != NoteAutoFill {
		t.Errorf("expected note %q, got %q", NoteAutoFill, *fill.Notes)
	}
}

func TestPlanFill_FallsBackToFollowingTemplate(t *testing.T) {
	p := paramWith(numeric(SexMale, 18, 120, 13, 17))
	changes := PlanFill(p, FillOptions{})
	if len(changes) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(changes))
	}
	if r := changes[0].Range; r.Interval() != (Interval{0, 18}) || *r.Lower != 13 {
		t.Errorf("unexpected fill %s %s", r.Interval(), r.ValueString())
	}
}

func TestPlanFill_PlaceholderWithoutTemplate(t *testing.T) {
	p := paramWith()
	changes := PlanFill(p, FillOptions{Placeholder: "pendiente"})
	if len(changes) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(changes))
	}
	r := changes[0].Range
	if r.Lower != nil || r.Upper != nil {
		t.Error("placeholder must not carry numeric bounds")
	}
	if *r.TextValue != "pendiente" || *r.Notes != NoteAutoFillPending {
		t.Errorf("unexpected placeholder %q / %q", *r.TextValue, *r.Notes)
	}
	if r.Interval() != (Interval{0, 120}) || r.Sex != SexBoth {
		t.Errorf("unexpected placeholder range %s %s", r.Sex, r.Interval())
	}
}

func TestPlanFill_NeverFabricatesValues(t *testing.T) {
	p := paramWith(
		numeric(SexMale, 0, 12, 11, 14),
		numeric(SexMale, 30, 40, 13, 17),
		textual(SexFemale, 5, 10, "negativo"),
		numeric(SexBoth, 90, 120, 10, 15),
	)
	known := map[ValueKey]bool{}
	for _, r := range p.Ranges {
		k := r.ValueKey()
		k.AgeMin, k.AgeMax = 0, 0
		known[k] = true
	}

	changes := PlanFill(p, FillOptions{Strict: true})
	if len(changes) == 0 {
		t.Fatal("expected fills")
	}
	for _, c := range changes {
		k := c.Range.ValueKey()
		k.AgeMin, k.AgeMax = 0, 0
		if !known[k] {
			t.Errorf("fill %s carries values %q that exist nowhere in the parameter", c.Range.Interval(), c.Range.ValueString())
		}
	}
}

func TestPlanFill_SexSpecificCoverageCountsAmbos(t *testing.T) {
	p := paramWith(
		numeric(SexMale, 0, 18, 12, 16),
		numeric(SexFemale, 0, 18, 11, 15),
		numeric(SexBoth, 18, 120, 12, 16),
	)
	if changes := PlanFill(p, FillOptions{}); len(changes) != 0 {
		t.Errorf("expected no gaps, got %d changes", len(changes))
	}
}

func TestPlanFill_StrictSplitsAtLifeStages(t *testing.T) {
	p := paramWith(numeric(SexFemale, 0, 12, 11, 15))
	changes := PlanFill(p, FillOptions{Strict: true})

	want := []Interval{{12, 18}, {18, 65}, {65, 120}}
	if len(changes) != len(want) {
		t.Fatalf("expected %d inserts, got %d", len(want), len(changes))
	}
	for i, c := range changes {
		if c.Range.Interval() != want[i] {
			t.Errorf("insert %d covers %s, want %s", i, c.Range.Interval(), want[i])
		}
		if c.Range.Sex != SexFemale {
			t.Errorf("insert %d has sex %s", i, c.Range.Sex)
		}
	}
}

func TestPlanFill_NarrowBands(t *testing.T) {
	p := paramWith(
		numeric(SexBoth, 0, 12, 1, 2),
		numeric(SexBoth, 13, 17, 3, 4),
		numeric(SexBoth, 18, 64, 5, 6),
		numeric(SexBoth, 65, 100, 7, 8),
	)
	changes := PlanFill(p, FillOptions{Bands: DefaultNarrowBands})
	want := []Interval{{12, 13}, {17, 18}, {64, 65}}
	if len(changes) != len(want) {
		t.Fatalf("expected %d inserts, got %d", len(want), len(changes))
	}
	for i, c := range changes {
		if c.Range.Interval() != want[i] {
			t.Errorf("insert %d covers %s, want %s", i, c.Range.Interval(), want[i])
		}
	}
	// [12,13) follows [0,12).
	if *changes[0].Range.Lower != 1 {
		t.Errorf("expected template [0,12), got %s", changes[0].Range.ValueString())
	}
}

func TestPlanFill_RestrictedToSex(t *testing.T) {
	p := paramWith(numeric(SexMale, 0, 50, 1, 2), numeric(SexFemale, 0, 60, 1, 2))
	changes := PlanFill(p, FillOptions{Sex: SexFemale})
	if len(changes) != 1 || changes[0].Range.Sex != SexFemale || changes[0].Range.Interval() != (Interval{60, 120}) {
		t.Errorf("unexpected plan %v", changes)
	}
}

func TestPlanFill_ClosesMissingSexNextToAmbos(t *testing.T) {
	p := paramWith(
		numeric(SexMale, 0, 120, 13, 17),
		numeric(SexBoth, 0, 18, 11, 16),
	)
	if got := FillSexes(p); len(got) != 2 || got[0] != SexMale || got[1] != SexFemale {
		t.Fatalf("expected both sexes, got %v", got)
	}

	changes := PlanFill(p, FillOptions{})
	if len(changes) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(changes))
	}
	r := changes[0].Range
	if r.Sex != SexFemale || r.Interval() != (Interval{18, 120}) {
		t.Errorf("unexpected fill %s %s", r.Sex, r.Interval())
	}
	// [18,120) follows the Ambos row [0,18).
	if *r.Lower != 11 || *r.Upper != 16 {
		t.Errorf("expected values of Ambos [0,18), got %s", r.ValueString())
	}
}

func TestFillSexes_SingleSexWithoutAmbosStaysSexSpecific(t *testing.T) {
	p := paramWith(numeric(SexMale, 0, 120, 0, 4))
	if got := FillSexes(p); len(got) != 1 || got[0] != SexMale {
		t.Errorf("expected Masculino only, got %v", got)
	}
}
