package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/racewire/racewire-api/internal/browser"
	"github.com/racewire/racewire-api/internal/checkpoint"
	"github.com/racewire/racewire-api/internal/fetcher"
	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/protection"
)

var pageParamRe = regexp.MustCompile(`[?&]page=(\d+)`)

// EvoChipScraper scrapes providers that publish results as paginated HTML
// tables. When a page looks truncated (a suspiciously round row count with
// no pagination), it retries through the headless renderer.
type EvoChipScraper struct {
	fetcher *fetcher.Fetcher
	browser *browser.Browser
	logger  *slog.Logger
}

// NewEvoChipScraper creates the EvoChip scraper. The browser may be nil
// when headless rendering is disabled.
func NewEvoChipScraper(f *fetcher.Fetcher, b *browser.Browser, logger *slog.Logger) *EvoChipScraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvoChipScraper{fetcher: f, browser: b, logger: logger.With("scraper", "evochip")}
}

func (s *EvoChipScraper) Name() string { return "evochip" }

func (s *EvoChipScraper) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Host), "evochip")
}

func (s *EvoChipScraper) Capabilities() Capabilities {
	return Capabilities{
		SupportsHeadless:      true,
		SupportsPagination:    true,
		SupportsMultiDistance: false,
		SupportsCheckpoints:   true,
		ExpectedCheckpoints: map[models.RaceType][]string{
			models.RaceTypeRunning: {"5km", "10km", "13km", "15km", "finish"},
		},
	}
}

func (s *EvoChipScraper) AnalyzeURL(ctx context.Context, rawURL string) (*AnalyzeReport, error) {
	analysis := &AnalyzeReport{Scraper: s.Name(), URL: rawURL}

	resp, err := s.fetcher.Get(ctx, rawURL)
	if err != nil {
		return analysis, err
	}
	analysis.Reachable = true

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		return analysis, nil
	}
	table := findResultsTable(doc)
	if table == nil {
		return analysis, nil
	}
	analysis.RaceCount = 1

	rows := table.Find("tbody tr").Length()
	pages := detectTotalPages(doc)
	analysis.EstimatedResults = rows * pages
	return analysis, nil
}

// pageTable is a parsed results page: rows keyed by the table's own header
// labels, ready for the alias table.
type pageTable struct {
	rows  []map[string]any
	pages int
}

func (s *EvoChipScraper) ScrapeEvent(ctx context.Context, rawURL string, opts Options, progress ProgressFunc) (*ScrapedResults, error) {
	started := time.Now().UTC()
	report(progress, Progress{Stage: StageInitializing})

	out := &ScrapedResults{Metadata: ScrapeMetadata{StartedAt: started}}

	var firstHTML string
	var first *pageTable
	usedHeadless := false
	blocked := false

	if !opts.ForceHeadless {
		report(progress, Progress{Stage: StageConnecting, Message: rawURL})
		resp, err := s.fetcher.Get(ctx, rawURL)
		if err != nil {
			report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
			return nil, err
		}
		firstHTML = string(resp.Body)

		first, err = parseResultsPage(firstHTML)
		if err != nil {
			// No table in the static HTML. If the page is a challenge or a
			// client-side shell, the renderer can still get at the results.
			det := protection.Classify(resp.StatusCode, resp.Body)
			if !det.Blocked || !det.BrowserMayHelp || s.browser == nil {
				report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
				return nil, err
			}
			s.logger.Info("static page unusable, retrying headless",
				"signal", det.Signal, "reason", det.Reason)
			out.Metadata.Warnings = append(out.Metadata.Warnings,
				"static page unusable: "+det.Reason)
			blocked = true
		}
	}

	// A first page whose row count is an exact multiple of 100 with no
	// pagination detected usually means a JS-truncated table.
	needsHeadless := opts.ForceHeadless || blocked ||
		(first != nil && len(first.rows) > 0 && len(first.rows)%100 == 0 && first.pages == 1)

	if needsHeadless && s.browser != nil {
		headless, err := s.scrapeHeadless(ctx, rawURL, opts, progress)
		if err != nil {
			if opts.ForceHeadless || first == nil {
				report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
				return nil, err
			}
			// Renderer failed but the static parse worked; keep it.
			s.logger.Warn("headless retry failed, keeping static results", "error", err)
			out.Metadata.Warnings = append(out.Metadata.Warnings,
				"headless retry failed: "+err.Error())
		} else {
			first = headless
			usedHeadless = true
		}
	}
	if first == nil {
		err := fmt.Errorf("no results table on %s", rawURL)
		report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
		return nil, err
	}

	totalPages := first.pages
	if opts.MaxPages > 0 && totalPages > opts.MaxPages {
		totalPages = opts.MaxPages
	}
	report(progress, Progress{Stage: StageDetectingPages, TotalPages: totalPages})

	allRows := first.rows
	if !usedHeadless {
		// Remaining pages through the static fetcher; the politeness
		// delay paces these requests.
		for page := 2; page <= totalPages; page++ {
			if err := ctx.Err(); err != nil {
				report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
				return nil, err
			}
			resp, err := s.fetcher.Get(ctx, pageURL(rawURL, page))
			if err != nil {
				report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
				return nil, fmt.Errorf("page %d: %w", page, err)
			}
			parsed, err := parseResultsPage(string(resp.Body))
			if err != nil {
				report(progress, Progress{Stage: StageError, Errors: []string{err.Error()}})
				return nil, fmt.Errorf("page %d: %w", page, err)
			}
			allRows = append(allRows, parsed.rows...)

			report(progress, Progress{
				Stage:           StageScraping,
				CurrentPage:     page,
				TotalPages:      totalPages,
				ResultsScraped:  len(allRows),
				PercentComplete: float64(page) / float64(totalPages) * 100,
			})
		}
	}

	event := s.extractEvent(firstHTML, rawURL)
	out.Event = event
	distanceName := ""
	if len(event.Distances) > 0 {
		distanceName = event.Distances[0].Name
	}

	for _, row := range allRows {
		result := ParseAliasedRow(row)
		result.Distance = distanceName
		out.Results = append(out.Results, *result)
	}

	report(progress, Progress{Stage: StageValidating, ResultsScraped: len(out.Results)})
	validation := s.ValidateResults(out)
	for _, w := range validation.Warnings {
		out.Metadata.Warnings = append(out.Metadata.Warnings, w.Message)
	}

	out.Metadata.CompletedAt = time.Now().UTC()
	out.Metadata.TotalPages = totalPages
	out.Metadata.TotalResults = len(out.Results)
	out.Metadata.UsedHeadlessBrowser = usedHeadless

	report(progress, Progress{
		Stage:           StageComplete,
		ResultsScraped:  len(out.Results),
		TotalPages:      totalPages,
		PercentComplete: 100,
		Warnings:        out.Metadata.Warnings,
	})
	return out, nil
}

// scrapeHeadless renders pages through the browser, scrolling each page to
// force lazy rows before reading the table.
func (s *EvoChipScraper) scrapeHeadless(ctx context.Context, rawURL string, opts Options, progress ProgressFunc) (*pageTable, error) {
	page, err := s.browser.AcquirePage(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Release()

	if err := page.Navigate(rawURL, "table"); err != nil {
		return nil, err
	}
	if err := page.ScrollToLoad(10); err != nil {
		s.logger.Debug("scroll failed", "error", err)
	}

	pagination, err := page.DetectPagination()
	if err != nil {
		pagination = &browser.Pagination{TotalPages: 1}
	}
	totalPages := pagination.TotalPages
	if opts.MaxPages > 0 && totalPages > opts.MaxPages {
		totalPages = opts.MaxPages
	}

	readRows := func() ([]map[string]any, error) {
		headers, err := page.TableHeaders()
		if err != nil {
			return nil, err
		}
		if !hasResultHeaders(headers) {
			return nil, fmt.Errorf("rendered table has no bib/name headers")
		}
		cells, err := page.TableRows()
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		for _, cell := range cells {
			row := make(map[string]any, len(headers))
			for i, v := range cell {
				if i < len(headers) {
					row[headers[i]] = v
				}
			}
			if len(row) > 0 {
				rows = append(rows, row)
			}
		}
		return rows, nil
	}

	rows, err := readRows()
	if err != nil {
		return nil, err
	}

	for p := 2; p <= totalPages; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := page.Navigate(pageURL(rawURL, p), "table"); err != nil {
			return nil, fmt.Errorf("page %d: %w", p, err)
		}
		if err := page.ScrollToLoad(10); err != nil {
			s.logger.Debug("scroll failed", "page", p, "error", err)
		}
		more, err := readRows()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", p, err)
		}
		rows = append(rows, more...)

		report(progress, Progress{
			Stage:           StageScraping,
			CurrentPage:     p,
			TotalPages:      totalPages,
			ResultsScraped:  len(rows),
			PercentComplete: float64(p) / float64(totalPages) * 100,
		})
	}

	return &pageTable{rows: rows, pages: totalPages}, nil
}

// parseResultsPage locates the results table and reads its rows, keyed by
// header label.
func parseResultsPage(html string) (*pageTable, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	table := findResultsTable(doc)
	if table == nil {
		return nil, fmt.Errorf("no results table found")
	}

	var headers []string
	table.Find("th").Each(func(_ int, sel *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(sel.Text()))
	})

	var rows []map[string]any
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
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

	return &pageTable{rows: rows, pages: detectTotalPages(doc)}, nil
}

// findResultsTable returns the first table whose headers include both a
// bib and a name column.
func findResultsTable(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		var headers []string
		table.Find("th").Each(func(_ int, th *goquery.Selection) {
			headers = append(headers, strings.ToLower(strings.TrimSpace(th.Text())))
		})
		if hasResultHeaders(headers) {
			found = table
			return false
		}
		return true
	})
	return found
}

func hasResultHeaders(headers []string) bool {
	hasBib, hasName := false, false
	for _, h := range headers {
		l := strings.ToLower(h)
		if strings.Contains(l, "bib") {
			hasBib = true
		}
		if strings.Contains(l, "name") {
			hasName = true
		}
	}
	return hasBib && hasName
}

// detectTotalPages finds the highest page number referenced by pagination
// links, preferring an explicit "Last" link.
func detectTotalPages(doc *goquery.Document) int {
	max := 1
	authoritative := false
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := pageParamRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		if strings.EqualFold(strings.TrimSpace(a.Text()), "last") {
			max = n
			authoritative = true
			return
		}
		if !authoritative && n > max {
			max = n
		}
	})
	return max
}

// pageURL sets the page query parameter on a URL.
func pageURL(rawURL string, page int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// extractEvent pulls event metadata from the first page. EvoChip pages
// carry a single distance, named in the page heading when present.
func (s *EvoChipScraper) extractEvent(html, rawURL string) ScrapedEvent {
	event := ScrapedEvent{}
	if html == "" {
		return event
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return event
	}

	event.Name = strings.TrimSpace(doc.Find("h1").First().Text())
	if event.Name == "" {
		event.Name = strings.TrimSpace(doc.Find("title").First().Text())
	}
	event.Date = isoDateRe.FindString(html)

	// Look for a distance in the headings, e.g. "Night Run 10K".
	heading := event.Name + " " + strings.TrimSpace(doc.Find("h2").First().Text())
	for name := range checkpoint.Distances {
		if strings.Contains(strings.ToLower(heading), strings.ToLower(name)) {
			meters, _ := checkpoint.DistanceMeters(name)
			event.Distances = append(event.Distances, ScrapedDistance{
				Name:           name,
				DistanceMeters: meters,
				RaceType:       checkpoint.DetectRaceType(name),
			})
			break
		}
	}
	return event
}

func (s *EvoChipScraper) ValidateResults(results *ScrapedResults) *ValidationReport {
	return Validate(results)
}
