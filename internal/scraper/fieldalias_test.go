package scraper

import (
	"slices"
	"testing"

	"github.com/racewire/racewire-api/internal/models"
)

func TestParseAliasedRowMapsAliases(t *testing.T) {
	row := map[string]any{
		"Pos":         "3",
		"Bib No":      "412",
		"Full Name":   "Jane Doe",
		"Sex":         "F",
		"finish":      "45:10",
		"gender-rank": "1",
		"Country":     "HUN",
	}

	r := ParseAliasedRow(row)

	if r.Position == nil || *r.Position != 3 {
		t.Errorf("position = %v, want 3", r.Position)
	}
	if r.Bib != "412" {
		t.Errorf("bib = %q, want 412", r.Bib)
	}
	if r.Name != "Jane Doe" {
		t.Errorf("name = %q", r.Name)
	}
	if r.FinishTime != "45:10" {
		t.Errorf("finish_time = %q", r.FinishTime)
	}
	if r.GenderPosition == nil || *r.GenderPosition != 1 {
		t.Errorf("gender_position = %v, want 1", r.GenderPosition)
	}
	if r.Status != models.ResultStatusFinished {
		t.Errorf("status = %q, want finished", r.Status)
	}

	for _, field := range []string{"position", "bib", "name", "gender", "finish_time", "gender_position", "country"} {
		if !slices.Contains(r.FieldsProvided, field) {
			t.Errorf("fields_provided missing %q: %v", field, r.FieldsProvided)
		}
	}
}

func TestParseAliasedRowAbsentValues(t *testing.T) {
	row := map[string]any{
		"name":     "John Smith",
		"position": "-",
		"bib":      "",
		"rank":     "0",
	}

	r := ParseAliasedRow(row)

	if r.Position != nil {
		t.Errorf("position = %v, want absent", *r.Position)
	}
	if r.Bib != "" {
		t.Errorf("bib = %q, want empty", r.Bib)
	}
	if slices.Contains(r.FieldsProvided, "position") || slices.Contains(r.FieldsProvided, "bib") {
		t.Errorf("placeholder values must not count as provided: %v", r.FieldsProvided)
	}
}

func TestParseAliasedRowStatus(t *testing.T) {
	cases := map[string]models.ResultStatus{
		"DNF":           models.ResultStatusDNF,
		"did not start": models.ResultStatusDNS,
		"DSQ":           models.ResultStatusDQ,
		"ok":            models.ResultStatusFinished,
	}
	for raw, want := range cases {
		r := ParseAliasedRow(map[string]any{"name": "X", "status": raw})
		if r.Status != want {
			t.Errorf("status %q = %q, want %q", raw, r.Status, want)
		}
	}
}

func TestParseAliasedRowCheckpoints(t *testing.T) {
	// Deliberately out of order and with one placeholder value.
	row := map[string]any{
		"name":  "Jane Doe",
		"10 km": "43:00",
		"5 km":  "21:30",
		"15 km": "-",
	}

	r := ParseAliasedRow(row)

	if len(r.Checkpoints) != 2 {
		t.Fatalf("checkpoints = %d, want 2 (placeholder skipped)", len(r.Checkpoints))
	}
	if r.Checkpoints[0].Name != "5km" || r.Checkpoints[1].Name != "10km" {
		t.Errorf("checkpoint order = %s, %s; want 5km, 10km", r.Checkpoints[0].Name, r.Checkpoints[1].Name)
	}
	if r.Checkpoints[0].Order != 1 || r.Checkpoints[1].Order != 2 {
		t.Errorf("orders = %d, %d", r.Checkpoints[0].Order, r.Checkpoints[1].Order)
	}
	if r.Checkpoints[0].CumulativeTime != "21:30" {
		t.Errorf("cumulative = %q", r.Checkpoints[0].CumulativeTime)
	}
	if r.Checkpoints[0].Type != models.CheckpointTypeDistance {
		t.Errorf("type = %q", r.Checkpoints[0].Type)
	}
}

func TestParseAliasedRowTriathlonCheckpoints(t *testing.T) {
	row := map[string]any{
		"name":         "Jane Doe",
		"Run":          "40:00",
		"Swim":         "25:00",
		"Transition 1": "27:00",
		"Bike":         "1:35:00",
		"T2":           "1:37:00",
	}

	r := ParseAliasedRow(row)

	want := []string{"swim", "T1", "bike", "T2", "run"}
	if len(r.Checkpoints) != len(want) {
		t.Fatalf("checkpoints = %d, want %d", len(r.Checkpoints), len(want))
	}
	for i, name := range want {
		if r.Checkpoints[i].Name != name {
			t.Errorf("checkpoint[%d] = %s, want %s", i, r.Checkpoints[i].Name, name)
		}
	}
	if r.Checkpoints[1].Type != models.CheckpointTypeTransition {
		t.Errorf("T1 type = %q", r.Checkpoints[1].Type)
	}
}
