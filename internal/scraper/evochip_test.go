package scraper

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func resultsTable(rows []string) string {
	return `<table>
<thead><tr><th>Pos</th><th>Bib</th><th>Name</th><th>5km</th><th>Finish</th></tr></thead>
<tbody>` + strings.Join(rows, "\n") + `</tbody></table>`
}

func resultRow(pos int, bib, name, split, finish string) string {
	return fmt.Sprintf("<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
		pos, bib, name, split, finish)
}

func TestParseResultsPage(t *testing.T) {
	html := `<html><body>
<table><tr><th>Menu</th></tr></table>
` + resultsTable([]string{
		resultRow(1, "101", "Jane Doe", "21:00", "42:10"),
		resultRow(2, "102", "John Roe", "22:30", "45:01"),
	}) + `
<div class="pagination">
<a href="?page=1">1</a> <a href="?page=2">2</a> <a href="?page=3">3</a>
</div>
</body></html>`

	page, err := parseResultsPage(html)
	if err != nil {
		t.Fatalf("parseResultsPage: %v", err)
	}
	if len(page.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(page.rows))
	}
	if page.pages != 3 {
		t.Errorf("pages = %d, want 3", page.pages)
	}
	if page.rows[0]["Name"] != "Jane Doe" || page.rows[0]["Bib"] != "101" {
		t.Errorf("row[0] = %v", page.rows[0])
	}
}

func TestParseResultsPageNoTable(t *testing.T) {
	// A table without bib/name headers is not a results table.
	if _, err := parseResultsPage(`<html><body><table><tr><th>Menu</th></tr></table></body></html>`); err == nil {
		t.Error("expected error when no results table present")
	}
}

func TestDetectTotalPagesLastLink(t *testing.T) {
	html := `<html><body>
<a href="?page=2">2</a>
<a href="?page=12">Last</a>
<a href="?page=3">3</a>
</body></html>`

	page, err := parseResultsPage(`<html><body>` + resultsTable(nil) + html + `</body></html>`)
	if err != nil {
		t.Fatalf("parseResultsPage: %v", err)
	}
	if page.pages != 12 {
		t.Errorf("pages = %d, want 12 from Last link", page.pages)
	}
}

func TestPageURL(t *testing.T) {
	got := pageURL("https://results.evochip.hu/race?id=5", 3)
	if !strings.Contains(got, "page=3") || !strings.Contains(got, "id=5") {
		t.Errorf("pageURL = %q", got)
	}

	// An existing page parameter is replaced, not duplicated.
	got = pageURL("https://results.evochip.hu/race?page=1", 4)
	if strings.Count(got, "page=") != 1 || !strings.Contains(got, "page=4") {
		t.Errorf("pageURL = %q", got)
	}
}

func TestEvoChipScrapeEventPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		switch page {
		case "", "1":
			fmt.Fprint(w, `<html><body><h1>City Night Run 10K</h1>
<p>2026-06-20</p>`+resultsTable([]string{
				resultRow(1, "101", "Jane Doe", "21:00", "42:10"),
				resultRow(2, "102", "John Roe", "22:30", "45:01"),
				resultRow(3, "103", "Eva Kiss", "23:10", "46:40"),
			})+`
<a href="?page=2">2</a> <a href="?page=3">Last</a>
</body></html>`)
		case "2":
			fmt.Fprint(w, `<html><body>`+resultsTable([]string{
				resultRow(4, "104", "Ana Toth", "24:00", "48:15"),
				resultRow(5, "105", "Max Nagy", "24:30", "49:02"),
			})+`</body></html>`)
		case "3":
			fmt.Fprint(w, `<html><body>`+resultsTable([]string{
				resultRow(6, "106", "Leo Kun", "25:00", "51:11"),
			})+`</body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewEvoChipScraper(testFetcher(t), nil, nil)

	var stages []Stage
	out, err := s.ScrapeEvent(t.Context(), srv.URL, Options{}, func(p Progress) {
		stages = append(stages, p.Stage)
	})
	if err != nil {
		t.Fatalf("ScrapeEvent: %v", err)
	}

	if len(out.Results) != 6 {
		t.Fatalf("results = %d, want 6", len(out.Results))
	}
	if out.Results[5].Name != "Leo Kun" {
		t.Errorf("last result = %+v", out.Results[5])
	}
	if out.Metadata.TotalPages != 3 || out.Metadata.UsedHeadlessBrowser {
		t.Errorf("metadata = %+v", out.Metadata)
	}

	if out.Event.Name != "City Night Run 10K" {
		t.Errorf("event name = %q", out.Event.Name)
	}
	if out.Event.Date != "2026-06-20" {
		t.Errorf("event date = %q", out.Event.Date)
	}
	if len(out.Event.Distances) != 1 || out.Event.Distances[0].DistanceMeters != 10000 {
		t.Errorf("event distances = %+v", out.Event.Distances)
	}
	if out.Results[0].Distance != out.Event.Distances[0].Name {
		t.Errorf("result distance = %q", out.Results[0].Distance)
	}

	if stages[len(stages)-1] != StageComplete {
		t.Errorf("stages = %v", stages)
	}
}

func TestEvoChipScrapeEventMaxPages(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, `<html><body>`+resultsTable([]string{
			resultRow(1, "101", "Jane Doe", "21:00", "42:10"),
		})+`<a href="?page=5">Last</a></body></html>`)
	}))
	defer srv.Close()

	s := NewEvoChipScraper(testFetcher(t), nil, nil)

	out, err := s.ScrapeEvent(t.Context(), srv.URL, Options{MaxPages: 2}, nil)
	if err != nil {
		t.Fatalf("ScrapeEvent: %v", err)
	}
	if out.Metadata.TotalPages != 2 {
		t.Errorf("total pages = %d, want capped 2", out.Metadata.TotalPages)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
}

func TestEvoChipTruncatedPageWithoutBrowser(t *testing.T) {
	// Exactly 100 rows with no pagination triggers the headless heuristic;
	// without a browser the static results are kept.
	rows := make([]string, 100)
	for i := range rows {
		rows[i] = resultRow(i+1, fmt.Sprintf("%d", 100+i), fmt.Sprintf("Runner %d", i+1), "21:00", "45:00")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>`+resultsTable(rows)+`</body></html>`)
	}))
	defer srv.Close()

	s := NewEvoChipScraper(testFetcher(t), nil, nil)

	out, err := s.ScrapeEvent(t.Context(), srv.URL, Options{}, nil)
	if err != nil {
		t.Fatalf("ScrapeEvent: %v", err)
	}
	if len(out.Results) != 100 {
		t.Errorf("results = %d, want 100", len(out.Results))
	}
	if out.Metadata.UsedHeadlessBrowser {
		t.Error("headless must not be reported without a browser")
	}
}

func TestEvoChipSPAShellWithoutBrowser(t *testing.T) {
	// A client-rendered shell is detected as blocked; with no browser to
	// fall back to, the scrape fails with the parse error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="app"></div><script src="/bundle.js"></script></body></html>`)
	}))
	defer srv.Close()

	s := NewEvoChipScraper(testFetcher(t), nil, nil)

	if _, err := s.ScrapeEvent(t.Context(), srv.URL, Options{}, nil); err == nil {
		t.Fatal("expected error for JS-only page without a browser")
	}
}

func TestEvoChipMatch(t *testing.T) {
	s := NewEvoChipScraper(nil, nil, nil)
	if !s.Match("https://results.evochip.hu/race/9") {
		t.Error("expected match on provider host")
	}
	if s.Match("https://hopasports.com/results") {
		t.Error("foreign host must not match")
	}
}

func TestEvoChipAnalyzeURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>`+resultsTable([]string{
			resultRow(1, "101", "Jane Doe", "21:00", "42:10"),
			resultRow(2, "102", "John Roe", "22:30", "45:01"),
		})+`<a href="?page=4">Last</a></body></html>`)
	}))
	defer srv.Close()

	s := NewEvoChipScraper(testFetcher(t), nil, nil)

	report, err := s.AnalyzeURL(t.Context(), srv.URL)
	if err != nil {
		t.Fatalf("AnalyzeURL: %v", err)
	}
	if !report.Reachable || report.RaceCount != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.EstimatedResults != 8 {
		t.Errorf("estimated = %d, want 2 rows x 4 pages", report.EstimatedResults)
	}
}
