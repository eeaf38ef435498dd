package scraper

import (
	"fmt"
	"strings"

	"github.com/racewire/racewire-api/internal/checkpoint"
)

// ValidationIssue is one quality problem found in a scraped payload. Row is
// the 1-based result index, zero for payload-level issues.
type ValidationIssue struct {
	Row     int    `json:"row,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationStats summarises payload quality.
type ValidationStats struct {
	Total                   int                `json:"total"`
	RowsWithAllFields       int                `json:"rows_with_all_fields"`
	RowsWithCheckpoints     int                `json:"rows_with_checkpoints"`
	AvgCheckpointsPerResult float64            `json:"avg_checkpoints_per_result"`
	FieldPercentages        map[string]float64 `json:"field_percentages"`
}

// ValidationReport is the outcome of validating a scraped payload. Errors
// make the payload invalid; warnings are advisory.
type ValidationReport struct {
	Valid        bool              `json:"valid"`
	Errors       []ValidationIssue `json:"errors,omitempty"`
	Warnings     []ValidationIssue `json:"warnings,omitempty"`
	Completeness float64           `json:"completeness"`
	Stats        ValidationStats   `json:"stats"`
}

// coreFields are the fields every result row should carry. Completeness is
// the mean population rate over these plus the expected checkpoints of the
// event's distances.
var coreFields = []string{"position", "bib", "name", "finish_time"}

// populationWarningThreshold is the field population rate below which a
// warning is raised.
const populationWarningThreshold = 0.5

// Validate checks a scraped payload for quality problems: missing names are
// errors, sparse fields, duplicate identifiers and non-monotonic checkpoint
// times are warnings.
func Validate(results *ScrapedResults) *ValidationReport {
	report := &ValidationReport{
		Stats: ValidationStats{FieldPercentages: map[string]float64{}},
	}
	if results == nil || len(results.Results) == 0 {
		report.Valid = true
		report.Warnings = append(report.Warnings, ValidationIssue{
			Message: "no results scraped",
		})
		return report
	}

	total := len(results.Results)
	report.Stats.Total = total

	fieldCounts := map[string]int{}
	checkpointTotal := 0
	seenBibs := map[string]int{}
	seenPositions := map[string]int{}

	for i, r := range results.Results {
		row := i + 1

		if r.Name == "" {
			report.Errors = append(report.Errors, ValidationIssue{
				Row: row, Field: "name", Message: fmt.Sprintf("row %d: missing athlete name", row),
			})
		}

		countFieldPresence(fieldCounts, &r)
		if r.Position != nil && r.Bib != "" && r.Name != "" && r.FinishTime != "" {
			report.Stats.RowsWithAllFields++
		}

		if len(r.Checkpoints) > 0 {
			report.Stats.RowsWithCheckpoints++
			checkpointTotal += len(r.Checkpoints)
			for _, msg := range checkMonotonic(r.Checkpoints) {
				report.Warnings = append(report.Warnings, ValidationIssue{
					Row: row, Field: "checkpoints",
					Message: fmt.Sprintf("row %d (%s): %s", row, r.Name, msg),
				})
			}
		}

		// Duplicate identifiers are only suspicious within one distance;
		// key on distance+value so multi-distance events don't collide.
		if r.Bib != "" {
			key := r.Distance + "|" + r.Bib
			if prev, ok := seenBibs[key]; ok {
				report.Warnings = append(report.Warnings, ValidationIssue{
					Row: row, Field: "bib",
					Message: fmt.Sprintf("row %d: duplicate bib %q (also row %d)", row, r.Bib, prev),
				})
			} else {
				seenBibs[key] = row
			}
		}
		if r.Position != nil {
			key := fmt.Sprintf("%s|%d", r.Distance, *r.Position)
			if prev, ok := seenPositions[key]; ok {
				report.Warnings = append(report.Warnings, ValidationIssue{
					Row: row, Field: "position",
					Message: fmt.Sprintf("row %d: duplicate position %d (also row %d)", row, *r.Position, prev),
				})
			} else {
				seenPositions[key] = row
			}
		}
	}

	for field, count := range fieldCounts {
		report.Stats.FieldPercentages[field] = float64(count) / float64(total)
	}
	report.Stats.AvgCheckpointsPerResult = float64(checkpointTotal) / float64(total)

	for _, field := range coreFields {
		if rate := report.Stats.FieldPercentages[field]; rate < populationWarningThreshold {
			report.Warnings = append(report.Warnings, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("field %q populated in only %.0f%% of results", field, rate*100),
			})
		}
	}

	report.Completeness = completeness(results, report.Stats.FieldPercentages)
	report.Valid = len(report.Errors) == 0
	return report
}

func countFieldPresence(counts map[string]int, r *ScrapedResult) {
	if r.Position != nil {
		counts["position"]++
	}
	if r.Bib != "" {
		counts["bib"]++
	}
	if r.Name != "" {
		counts["name"]++
	}
	if r.FinishTime != "" {
		counts["finish_time"]++
	}
	if r.Gender != "" {
		counts["gender"]++
	}
	if r.Category != "" {
		counts["category"]++
	}
	if r.Country != "" {
		counts["country"]++
	}
	for _, cp := range r.Checkpoints {
		counts[cp.Name]++
	}
}

// checkMonotonic verifies cumulative checkpoint times never decrease in
// checkpoint order. Unparseable times are skipped, not flagged; providers
// publish plenty of placeholder values.
func checkMonotonic(cps []ScrapedCheckpoint) []string {
	var msgs []string
	prevName := ""
	var prev float64 = -1
	for _, cp := range cps {
		if cp.CumulativeTime == "" {
			continue
		}
		d, err := checkpoint.ParseTime(cp.CumulativeTime)
		if err != nil {
			continue
		}
		cur := d.Seconds()
		if prev >= 0 && cur < prev {
			msgs = append(msgs, fmt.Sprintf(
				"checkpoint %s (%s) earlier than %s", cp.Name, cp.CumulativeTime, prevName))
		}
		prev = cur
		prevName = cp.Name
	}
	return msgs
}

// completeness averages the population rate over the core fields plus every
// checkpoint expected for the event's declared distances.
func completeness(results *ScrapedResults, rates map[string]float64) float64 {
	fields := append([]string{}, coreFields...)
	seen := map[string]bool{}
	for _, f := range fields {
		seen[f] = true
	}
	for _, d := range results.Event.Distances {
		for _, name := range checkpoint.ExpectedCheckpoints(d.RaceType, d.DistanceMeters) {
			n := checkpoint.NormalizeName(name)
			if strings.EqualFold(n, "finish") || seen[n] {
				continue
			}
			seen[n] = true
			fields = append(fields, n)
		}
	}

	sum := 0.0
	for _, f := range fields {
		sum += rates[f]
	}
	return sum / float64(len(fields))
}
