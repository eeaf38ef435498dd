// Package checkpoint provides the canonical checkpoint vocabulary:
// distance catalogue, expected-checkpoint lists per race type, name
// normalisation, time parsing and plausibility validation.
package checkpoint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/racewire/racewire-api/internal/models"
)

// Distance catalogue in metres, keyed by the common distance name.
var Distances = map[string]int{
	"5K":            5000,
	"10K":           10000,
	"15K":           15000,
	"10 Mile":       16093,
	"Half Marathon": 21097,
	"Marathon":      42195,
	"Ultra 50K":     50000,
	"Ultra 100K":    100000,

	// Olympic-distance triathlon segments
	"Tri Swim": 1500,
	"Tri Bike": 40000,
	"Tri Run":  10000,

	// Duathlon segments
	"Du Run 1": 10000,
	"Du Bike":  40000,
	"Du Run 2": 5000,
}

// ExpectedCheckpoints returns the standard checkpoint list for a race type
// and distance. Running races get km markers every 5km up to the distance;
// multisport races get their discipline and transition sequence.
func ExpectedCheckpoints(raceType models.RaceType, distanceMeters int) []string {
	switch raceType {
	case models.RaceTypeTriathlon:
		return []string{"swim", "T1", "bike", "T2", "run", "finish"}
	case models.RaceTypeDuathlon:
		return []string{"run1", "T1", "bike", "T2", "run2", "finish"}
	case models.RaceTypeRelay:
		legs := distanceMeters / 10000
		if legs < 2 {
			legs = 2
		}
		out := make([]string, 0, legs+1)
		for i := 1; i <= legs; i++ {
			out = append(out, fmt.Sprintf("leg%d", i))
		}
		return append(out, "finish")
	default:
		// running and ultra: 5km markers up to (not including) the finish
		var out []string
		for km := 5; km*1000 < distanceMeters; km += 5 {
			out = append(out, fmt.Sprintf("%dkm", km))
		}
		return append(out, "finish")
	}
}

var (
	kmRe         = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*k(?:m)?$`)
	miRe         = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*mi(?:le)?s?$`)
	transitionRe = regexp.MustCompile(`^(?:transition\s*|t)([12])$`)
)

// NormalizeName converts a free-form checkpoint label to its canonical
// token: "5 km" -> "5km", "3 miles" -> "3mi", "transition 1" -> "T1",
// discipline names to swim/bike/run, finish variants to "finish".
// Unrecognised labels are lower-cased and whitespace-trimmed.
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))

	if m := kmRe.FindStringSubmatch(n); m != nil {
		return m[1] + "km"
	}
	if m := miRe.FindStringSubmatch(n); m != nil {
		return m[1] + "mi"
	}
	if m := transitionRe.FindStringSubmatch(n); m != nil {
		return "T" + m[1]
	}

	switch {
	case strings.Contains(n, "swim"):
		return "swim"
	case strings.Contains(n, "bike"), strings.Contains(n, "cycle"):
		return "bike"
	case strings.Contains(n, "run"):
		return "run"
	case n == "finish", n == "final", n == "end":
		return "finish"
	}

	return n
}

// DetectType classifies a normalised checkpoint name.
func DetectType(name string) models.CheckpointType {
	switch name {
	case "T1", "T2":
		return models.CheckpointTypeTransition
	case "swim", "bike", "run", "run1", "run2":
		return models.CheckpointTypeDiscipline
	default:
		return models.CheckpointTypeDistance
	}
}

// DetectRaceType infers the race type from a free-form distance name.
func DetectRaceType(distanceName string) models.RaceType {
	n := strings.ToLower(distanceName)
	switch {
	case strings.Contains(n, "triathlon"), strings.Contains(n, "ironman"), strings.Contains(n, "tri"):
		return models.RaceTypeTriathlon
	case strings.Contains(n, "duathlon"):
		return models.RaceTypeDuathlon
	case strings.Contains(n, "relay"), strings.Contains(n, "ekiden"):
		return models.RaceTypeRelay
	case strings.Contains(n, "ultra"), strings.Contains(n, "50k"), strings.Contains(n, "100k"):
		return models.RaceTypeUltra
	default:
		return models.RaceTypeRunning
	}
}

// DistanceMeters resolves a distance name against the catalogue, falling
// back to parsing forms like "10K", "21.1km" or "5000m".
func DistanceMeters(distanceName string) (int, bool) {
	if m, ok := Distances[distanceName]; ok {
		return m, true
	}
	for name, m := range Distances {
		if strings.EqualFold(name, distanceName) {
			return m, true
		}
	}

	n := strings.ToLower(strings.TrimSpace(distanceName))
	n = strings.ReplaceAll(n, " ", "")
	if strings.HasSuffix(n, "km") {
		if v, err := strconv.ParseFloat(strings.TrimSuffix(n, "km"), 64); err == nil {
			return int(v * 1000), true
		}
	}
	if strings.HasSuffix(n, "k") {
		if v, err := strconv.ParseFloat(strings.TrimSuffix(n, "k"), 64); err == nil {
			return int(v * 1000), true
		}
	}
	if strings.HasSuffix(n, "m") {
		if v, err := strconv.Atoi(strings.TrimSuffix(n, "m")); err == nil {
			return v, true
		}
	}
	return 0, false
}

// ParseTime parses a result time string. Two colon-separated tokens are
// read as MM:SS, three as HH:MM:SS. Any non-numeric token invalidates the
// parse.
func ParseTime(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")

	nums := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q: token %q is not numeric", s, p)
		}
		nums[i] = v
	}

	switch len(nums) {
	case 2:
		return time.Duration(nums[0])*time.Minute + time.Duration(nums[1])*time.Second, nil
	case 3:
		return time.Duration(nums[0])*time.Hour + time.Duration(nums[1])*time.Minute + time.Duration(nums[2])*time.Second, nil
	default:
		return 0, fmt.Errorf("invalid time %q: expected MM:SS or HH:MM:SS", s)
	}
}

// ValidateOrder checks that cumulative times are monotonically
// non-decreasing when checkpoints are walked in checkpoint order. The
// returned messages describe each violation; an empty slice means the
// sequence is valid. Checkpoints without a parseable cumulative time are
// skipped.
func ValidateOrder(cps []models.TimingCheckpoint) []string {
	ordered := make([]models.TimingCheckpoint, len(cps))
	copy(ordered, cps)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Order < ordered[j-1].Order; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	var problems []string
	prev := time.Duration(-1)
	prevName := ""
	for _, cp := range ordered {
		if cp.CumulativeTime == "" {
			continue
		}
		d, err := ParseTime(cp.CumulativeTime)
		if err != nil {
			continue
		}
		if prev >= 0 && d < prev {
			problems = append(problems, fmt.Sprintf(
				"checkpoint %s cumulative time %s is before %s at %s",
				cp.Name, cp.CumulativeTime, prevName, prev))
		}
		prev = d
		prevName = cp.Name
	}
	return problems
}

// cutoffs holds the longest plausible finish time per distance in metres.
var cutoffs = map[int]time.Duration{
	5000:   2 * time.Hour,
	10000:  4 * time.Hour,
	15000:  5 * time.Hour,
	21097:  7 * time.Hour,
	42195:  10 * time.Hour,
	50000:  16 * time.Hour,
	100000: 36 * time.Hour,
}

// worldRecords flags finish times faster than the distance record.
// Keyed by distance metres then sex token ("m"/"f").
var worldRecords = map[int]map[string]time.Duration{
	5000:   {"m": 12*time.Minute + 35*time.Second, "f": 13*time.Minute + 54*time.Second},
	10000:  {"m": 26*time.Minute + 11*time.Second, "f": 28*time.Minute + 54*time.Second},
	21097:  {"m": 57*time.Minute + 30*time.Second, "f": 62*time.Minute + 52*time.Second},
	42195:  {"m": 2*time.Hour + 35*time.Second, "f": 2*time.Hour + 9*time.Minute + 56*time.Second},
	100000: {"m": 6*time.Hour + 5*time.Minute, "f": 6*time.Hour + 33*time.Minute},
}

// CheckFinishTime validates a finish time against the cutoff and
// world-record tables for a distance. Both outcomes are warnings, never
// rejections; sex may be empty when unknown.
func CheckFinishTime(distanceMeters int, sex, finish string) []string {
	d, err := ParseTime(finish)
	if err != nil {
		return nil
	}

	var warnings []string
	if cutoff, ok := cutoffs[distanceMeters]; ok && d > cutoff {
		warnings = append(warnings, fmt.Sprintf(
			"finish time %s exceeds plausible cutoff %s for %dm", finish, cutoff, distanceMeters))
	}
	if records, ok := worldRecords[distanceMeters]; ok {
		key := strings.ToLower(strings.TrimSpace(sex))
		if len(key) > 1 {
			key = key[:1]
		}
		if record, ok := records[key]; ok && d < record {
			warnings = append(warnings, fmt.Sprintf(
				"finish time %s is faster than the world record %s for %dm", finish, record, distanceMeters))
		}
	}
	return warnings
}
