package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/racewire/racewire-api/internal/checkpoint"
	"github.com/racewire/racewire-api/internal/fetcher"
	"github.com/racewire/racewire-api/internal/models"
)

// RaceDescriptor is one race entry from an embedded race configuration.
type RaceDescriptor struct {
	RaceID string
	PT     string
	Title  string
}

// RaceConfig is the API configuration a Hopasports-style event page embeds:
// a results API base URL plus one descriptor per race.
type RaceConfig struct {
	BaseURL string
	Races   []RaceDescriptor
}

// APIURL builds the results API URL for one race.
func (c *RaceConfig) APIURL(d RaceDescriptor) string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	q := u.Query()
	q.Set("race_id", d.RaceID)
	q.Set("pt", d.PT)
	u.RawQuery = q.Encode()
	return u.String()
}

var (
	baseURLRe   = regexp.MustCompile(`https?://[^\s"'\\()\[\]]+`)
	quotedRe    = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
	jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)
	isoDateRe   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// ExtractRaceConfig scans the page for the embedded race configuration.
// The configuration lives in a component attribute wrapping a quoted call:
// the descriptor array is a JSON string inside that call, so it is
// unquoted before parsing. Returns false when no configuration is present.
func ExtractRaceConfig(html string) (*RaceConfig, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}

	var cfg *RaceConfig
	doc.Find("*").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(sel.Nodes) == 0 {
			return true
		}
		for _, attr := range sel.Nodes[0].Attr {
			if !strings.Contains(attr.Val, "race_id") {
				continue
			}
			if c, err := parseRaceAttr(attr.Val); err == nil {
				cfg = c
				return false
			}
		}
		return true
	})

	return cfg, cfg != nil
}

// parseRaceAttr pulls the base URL and descriptor array out of one
// attribute value.
func parseRaceAttr(val string) (*RaceConfig, error) {
	base := strings.TrimRight(baseURLRe.FindString(val), `\",');`)
	if base == "" {
		return nil, fmt.Errorf("no base url in race configuration")
	}

	races, err := parseDescriptorArray(val)
	if err != nil {
		return nil, err
	}
	if len(races) == 0 {
		return nil, fmt.Errorf("race configuration has no races")
	}
	return &RaceConfig{BaseURL: base, Races: races}, nil
}

func parseDescriptorArray(val string) ([]RaceDescriptor, error) {
	// The array is usually a quoted JSON string inside the call; unquote
	// each quoted chunk mentioning race_id and try it as JSON.
	for _, q := range quotedRe.FindAllString(val, -1) {
		if !strings.Contains(q, "race_id") {
			continue
		}
		inner, err := strconv.Unquote(q)
		if err != nil {
			continue
		}
		if races, err := decodeDescriptors(inner); err == nil {
			return races, nil
		}
	}
	// Fall back to a bare array embedded directly in the attribute.
	if arr := jsonArrayRe.FindString(val); arr != "" {
		if races, err := decodeDescriptors(arr); err == nil {
			return races, nil
		}
	}
	return nil, fmt.Errorf("no descriptor array in race configuration")
}

func decodeDescriptors(s string) ([]RaceDescriptor, error) {
	var raw []map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	var races []RaceDescriptor
	for _, entry := range raw {
		d := RaceDescriptor{
			RaceID: stringValue(entry["race_id"]),
			PT:     stringValue(entry["pt"]),
			Title:  stringValue(entry["title"]),
		}
		if d.RaceID == "" {
			continue
		}
		races = append(races, d)
	}
	if len(races) == 0 {
		return nil, fmt.Errorf("descriptor array is empty")
	}
	return races, nil
}

// HopasportsScraper scrapes providers whose event pages embed a results API
// configuration (base URL + race descriptors) and serve result rows as JSON.
type HopasportsScraper struct {
	fetcher *fetcher.Fetcher
	logger  *slog.Logger
}

// NewHopasportsScraper creates the Hopasports scraper.
func NewHopasportsScraper(f *fetcher.Fetcher, logger *slog.Logger) *HopasportsScraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &HopasportsScraper{fetcher: f, logger: logger.With("scraper", "hopasports")}
}

func (s *HopasportsScraper) Name() string { return "hopasports" }

func (s *HopasportsScraper) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Host), "hopasports")
}

func (s *HopasportsScraper) Capabilities() Capabilities {
	return Capabilities{
		SupportsHeadless:      false,
		SupportsPagination:    false,
		SupportsMultiDistance: true,
		SupportsCheckpoints:   true,
		ExpectedCheckpoints: map[models.RaceType][]string{
			models.RaceTypeRunning:   {"5km", "10km", "finish"},
			models.RaceTypeTriathlon: {"swim", "T1", "bike", "T2", "run", "finish"},
		},
	}
}

// AnalyzeURL fetches the event page and reports the embedded races without
// scraping any results.
func (s *HopasportsScraper) AnalyzeURL(ctx context.Context, rawURL string) (*AnalyzeReport, error) {
	report := &AnalyzeReport{Scraper: s.Name(), URL: rawURL}

	resp, err := s.fetcher.Get(ctx, rawURL)
	if err != nil {
		return report, err
	}
	report.Reachable = true

	cfg, ok := ExtractRaceConfig(string(resp.Body))
	if !ok {
		return report, nil
	}
	report.RaceCount = len(cfg.Races)
	for _, race := range cfg.Races {
		report.RaceTitles = append(report.RaceTitles, race.Title)
	}
	return report, nil
}

func (s *HopasportsScraper) ScrapeEvent(ctx context.Context, rawURL string, opts Options, progress ProgressFunc) (*ScrapedResults, error) {
	started := time.Now().UTC()
	report(progress, Progress{Stage: StageInitializing})

	report(progress, Progress{Stage: StageConnecting, Message: rawURL})
	resp, err := s.fetcher.Get(ctx, rawURL)
	if err != nil {
		report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
		return nil, err
	}

	html := string(resp.Body)
	cfg, ok := ExtractRaceConfig(html)
	if !ok {
		err := fmt.Errorf("no race configuration found on %s", rawURL)
		report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
		return nil, err
	}

	out := &ScrapedResults{
		Event: s.extractEvent(html, cfg),
		Metadata: ScrapeMetadata{
			StartedAt:  started,
			TotalPages: len(cfg.Races),
		},
	}

	report(progress, Progress{Stage: StageDetectingPages, TotalPages: len(cfg.Races)})

	for i, race := range cfg.Races {
		if err := ctx.Err(); err != nil {
			report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
			return nil, err
		}

		rows, warnings, err := s.fetchRace(ctx, cfg, race)
		if err != nil {
			report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
			return nil, fmt.Errorf("race %q: %w", race.Title, err)
		}
		out.Metadata.Warnings = append(out.Metadata.Warnings, warnings...)

		for _, row := range rows {
			result := ParseAliasedRow(row)
			result.Distance = race.Title
			out.Results = append(out.Results, *result)
		}

		report(progress, Progress{
			Stage:           StageScraping,
			CurrentPage:     i + 1,
			TotalPages:      len(cfg.Races),
			ResultsScraped:  len(out.Results),
			PercentComplete: float64(i+1) / float64(len(cfg.Races)) * 100,
		})
	}

	report(progress, Progress{Stage: StageValidating, ResultsScraped: len(out.Results)})
	validation := s.ValidateResults(out)
	for _, w := range validation.Warnings {
		out.Metadata.Warnings = append(out.Metadata.Warnings, w.Message)
	}

	out.Metadata.CompletedAt = time.Now().UTC()
	out.Metadata.TotalResults = len(out.Results)

	report(progress, Progress{
		Stage:           StageComplete,
		ResultsScraped:  len(out.Results),
		TotalPages:      len(cfg.Races),
		PercentComplete: 100,
		Warnings:        out.Metadata.Warnings,
	})
	return out, nil
}

// fetchRace GETs one race's API URL and decodes its rows. HTML payloads
// fall back to table parsing.
func (s *HopasportsScraper) fetchRace(ctx context.Context, cfg *RaceConfig, race RaceDescriptor) ([]map[string]any, []string, error) {
	apiURL := cfg.APIURL(race)
	resp, err := s.fetcher.GetWithHeaders(ctx, apiURL, map[string]string{
		"Accept": "application/json, text/html",
	})
	if err != nil {
		return nil, nil, err
	}

	rows, err := parseAPIPayload(resp.Body)
	if err == nil {
		return rows, nil, nil
	}

	// Some providers answer the API URL with an HTML fragment instead.
	rows, htmlErr := parseHTMLRows(resp.Body)
	if htmlErr != nil {
		return nil, nil, fmt.Errorf("payload is neither JSON nor a results table: %v", err)
	}
	return rows, []string{fmt.Sprintf("race %q served HTML instead of JSON", race.Title)}, nil
}

// payloadKeys are the property names tried, in order, when the API answers
// with a top-level object instead of an array.
var payloadKeys = []string{"results", "data", "items", "athletes"}

// parseAPIPayload decodes a results payload: either a bare array of rows or
// an object holding the array under a known key.
func parseAPIPayload(body []byte) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var rows []map[string]any
		if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
			return nil, fmt.Errorf("failed to decode results array: %w", err)
		}
		return rows, nil
	case strings.HasPrefix(trimmed, "{"):
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, fmt.Errorf("failed to decode results object: %w", err)
		}
		for _, key := range payloadKeys {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			var rows []map[string]any
			if err := json.Unmarshal(raw, &rows); err == nil {
				return rows, nil
			}
		}
		return nil, fmt.Errorf("results object has none of %v", payloadKeys)
	default:
		return nil, fmt.Errorf("payload is not JSON")
	}
}

// parseHTMLRows reads a results table out of an HTML payload, keyed by the
// table's own header labels so the alias table can map them.
func parseHTMLRows(body []byte) ([]map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	var headers []string
	doc.Find("table th").Each(func(_ int, sel *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(sel.Text()))
	})
	if len(headers) == 0 {
		return nil, fmt.Errorf("no table headers found")
	}

	var rows []map[string]any
	doc.Find("table tbody tr").Each(func(_ int, tr *goquery.Selection) {
		row := make(map[string]any, len(headers))
		tr.Find("td").Each(func(i int, td *goquery.Selection) {
			if i < len(headers) {
				row[headers[i]] = strings.TrimSpace(td.Text())
			}
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	if len(rows) == 0 {
		return nil, fmt.Errorf("no table rows found")
	}
	return rows, nil
}

// extractEvent pulls event metadata from the page and builds the distance
// list from the race descriptors.
func (s *HopasportsScraper) extractEvent(html string, cfg *RaceConfig) ScrapedEvent {
	event := ScrapedEvent{}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		event.Name = strings.TrimSpace(doc.Find("h1").First().Text())
		if event.Name == "" {
			event.Name = strings.TrimSpace(doc.Find("title").First().Text())
		}
		if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			if d := isoDateRe.FindString(dt); d != "" {
				event.Date = d
			}
		}
	}
	if event.Date == "" {
		event.Date = isoDateRe.FindString(html)
	}

	for _, race := range cfg.Races {
		meters, _ := checkpoint.DistanceMeters(race.Title)
		event.Distances = append(event.Distances, ScrapedDistance{
			Name:           race.Title,
			DistanceMeters: meters,
			RaceType:       checkpoint.DetectRaceType(race.Title),
		})
	}
	return event
}

func (s *HopasportsScraper) ValidateResults(results *ScrapedResults) *ValidationReport {
	return Validate(results)
}

// ScrapeAthleteProfile reads a provider athlete page: identity header plus
// the race-history table.
func (s *HopasportsScraper) ScrapeAthleteProfile(ctx context.Context, rawURL string) (*AthleteProfile, error) {
	resp, err := s.fetcher.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse athlete page: %w", err)
	}

	profile := &AthleteProfile{
		Name: strings.TrimSpace(doc.Find("h1").First().Text()),
	}
	if profile.Name == "" {
		return nil, fmt.Errorf("no athlete name on %s", rawURL)
	}

	rows, err := parseHTMLRows(resp.Body)
	if err != nil {
		// Profile without a history table is still a valid profile.
		return profile, nil
	}

	for _, row := range rows {
		entry := AthleteHistory{}
		for key, val := range row {
			v := stringValue(val)
			if v == "" || v == "-" {
				continue
			}
			switch normalizeKey(key) {
			case "event", "race", "eventname":
				entry.EventName = v
			case "date":
				if d := isoDateRe.FindString(v); d != "" {
					entry.Date = d
				} else {
					entry.Date = v
				}
			case "distance":
				entry.Distance = v
			case "time", "finish", "finishtime", "result":
				entry.FinishTime = v
			case "position", "pos", "place", "rank":
				entry.Position = positiveInt(v)
			}
		}
		if entry.EventName != "" {
			profile.History = append(profile.History, entry)
		}
	}
	return profile, nil
}
