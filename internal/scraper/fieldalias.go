package scraper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/racewire/racewire-api/internal/checkpoint"
	"github.com/racewire/racewire-api/internal/models"
)

// fieldAliases maps each logical result field to the source keys providers
// use for it, in priority order. Alias matching is case-insensitive on the
// normalised key (lowercase, spaces and underscores stripped).
var fieldAliases = map[string][]string{
	"position":          {"position", "pos", "rank", "place", "overall", "overallposition"},
	"bib":               {"bib", "bibnumber", "bibno", "number", "raceno", "startnumber"},
	"name":              {"name", "fullname", "athlete", "athletename", "participant", "runner"},
	"gender":            {"gender", "sex"},
	"category":          {"category", "cat", "division", "agegroup", "agecategory"},
	"finish_time":       {"finishtime", "finish", "time", "officialtime", "result", "nettime"},
	"gun_time":          {"guntime", "gun", "grosstime"},
	"chip_time":         {"chiptime", "chip", "netttime", "realtime"},
	"pace":              {"pace", "minkm", "minperkm"},
	"gender_position":   {"genderposition", "genderrank", "sexposition", "sexrank", "genderplace"},
	"category_position": {"categoryposition", "categoryrank", "catposition", "divisionrank", "catplace"},
	"country":           {"country", "nation", "nationality", "ctry"},
	"club":              {"club", "team", "clubteam"},
	"age":               {"age"},
	"status":            {"status", "state"},
	"time_behind":       {"timebehind", "behind", "gap", "diff"},
}

// checkpointKeys are source keys that carry split data rather than a
// top-level result field. Anything normalising to a km/mi marker, a
// transition or a discipline token is treated as a checkpoint.
func isCheckpointKey(key string) bool {
	n := checkpoint.NormalizeName(key)
	if n == "finish" {
		// bare "finish" is the finish time alias, not a split
		return false
	}
	switch n {
	case "T1", "T2", "swim", "bike", "run", "run1", "run2":
		return true
	}
	return strings.HasSuffix(n, "km") || strings.HasSuffix(n, "mi")
}

// normalizeKey flattens a source key for alias matching.
func normalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.ReplaceAll(k, "_", "")
	k = strings.ReplaceAll(k, " ", "")
	k = strings.ReplaceAll(k, "-", "")
	return k
}

// stringValue renders a raw JSON value as a trimmed string.
func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", x))
	}
}

// positiveInt parses a value as a positive integer. "-", empty strings and
// non-positive numbers yield absent.
func positiveInt(v any) *int {
	s := stringValue(v)
	if s == "" || s == "-" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// parseStatus maps provider status strings onto the canonical set.
func parseStatus(s string) models.ResultStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dnf", "did not finish":
		return models.ResultStatusDNF
	case "dns", "did not start":
		return models.ResultStatusDNS
	case "dq", "dsq", "disqualified":
		return models.ResultStatusDQ
	default:
		return models.ResultStatusFinished
	}
}

// ParseAliasedRow maps a raw provider row onto a ScrapedResult through the
// field-alias table. FieldsProvided records which logical fields the row
// actually populated. Keys that look like checkpoint labels become
// checkpoints in the label's catalogue order.
func ParseAliasedRow(row map[string]any) *ScrapedResult {
	// Index the row by normalised key; first occurrence wins.
	byKey := make(map[string]any, len(row))
	for k, v := range row {
		nk := normalizeKey(k)
		if _, ok := byKey[nk]; !ok {
			byKey[nk] = v
		}
	}

	result := &ScrapedResult{Status: models.ResultStatusFinished}
	var provided []string
	consumed := make(map[string]bool)

	lookup := func(field string) (any, bool) {
		for _, alias := range fieldAliases[field] {
			if v, ok := byKey[alias]; ok {
				consumed[alias] = true
				return v, true
			}
		}
		return nil, false
	}

	setString := func(field string, dst *string) {
		if v, ok := lookup(field); ok {
			if s := stringValue(v); s != "" && s != "-" {
				*dst = s
				provided = append(provided, field)
			}
		}
	}
	setInt := func(field string, dst **int) {
		if v, ok := lookup(field); ok {
			if n := positiveInt(v); n != nil {
				*dst = n
				provided = append(provided, field)
			}
		}
	}

	setInt("position", &result.Position)
	setString("bib", &result.Bib)
	setString("name", &result.Name)
	setString("gender", &result.Gender)
	setString("category", &result.Category)
	setString("finish_time", &result.FinishTime)
	setString("gun_time", &result.GunTime)
	setString("chip_time", &result.ChipTime)
	setString("pace", &result.Pace)
	setInt("gender_position", &result.GenderPosition)
	setInt("category_position", &result.CategoryPosition)
	setString("country", &result.Country)
	setString("club", &result.Club)
	setInt("age", &result.Age)
	setString("time_behind", &result.TimeBehind)

	if v, ok := lookup("status"); ok {
		result.Status = parseStatus(stringValue(v))
		provided = append(provided, "status")
	}

	// Remaining keys that normalise to checkpoint tokens become splits.
	var cpKeys []string
	for k := range byKey {
		if !consumed[k] && isCheckpointKey(k) {
			cpKeys = append(cpKeys, k)
		}
	}
	sort.Slice(cpKeys, func(i, j int) bool {
		return checkpointSortKey(cpKeys[i]) < checkpointSortKey(cpKeys[j])
	})
	for i, k := range cpKeys {
		val := stringValue(byKey[k])
		if val == "" || val == "-" {
			continue
		}
		name := checkpoint.NormalizeName(k)
		result.Checkpoints = append(result.Checkpoints, ScrapedCheckpoint{
			Name:           name,
			Type:           checkpoint.DetectType(name),
			Order:          i + 1,
			CumulativeTime: val,
		})
		provided = append(provided, name)
	}

	result.FieldsProvided = provided
	return result
}

// checkpointSortKey orders checkpoint keys: distance markers by their
// number, then disciplines and transitions in course order.
func checkpointSortKey(key string) int {
	n := checkpoint.NormalizeName(key)
	if strings.HasSuffix(n, "km") {
		if v, err := strconv.ParseFloat(strings.TrimSuffix(n, "km"), 64); err == nil {
			return int(v * 10)
		}
	}
	if strings.HasSuffix(n, "mi") {
		if v, err := strconv.ParseFloat(strings.TrimSuffix(n, "mi"), 64); err == nil {
			return int(v * 16)
		}
	}
	switch n {
	case "swim":
		return 10000
	case "T1":
		return 10001
	case "bike":
		return 10002
	case "T2":
		return 10003
	case "run", "run2":
		return 10004
	case "run1":
		return 10000
	}
	return 20000
}
