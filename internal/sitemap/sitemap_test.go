package sitemap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
	"testing"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
)

func makeEntries(n int, group string) []domain.URLEntry {
	entries := make([]domain.URLEntry, n)
	for i := range entries {
		entries[i] = domain.URLEntry{Loc: "https://x.com/p", RowNumber: i + 1, Group: group}
	}
	return entries
}

func TestChunk(t *testing.T) {
	t.Parallel()

	chunks := Chunk(makeEntries(120000, ""), 50000)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	sizes := []int{50000, 50000, 20000}
	for i, c := range chunks {
		if len(c) != sizes[i] {
			t.Fatalf("chunk %d size = %d, want %d", i, len(c), sizes[i])
		}
	}
	if chunks[1][0].RowNumber != 50001 {
		t.Fatalf("chunk order broken: first row of chunk 2 = %d", chunks[1][0].RowNumber)
	}
}

func TestChunkClampsToProtocolLimit(t *testing.T) {
	t.Parallel()

	if got := len(Chunk(makeEntries(50001, ""), 100000)); got != 2 {
		t.Fatalf("chunks = %d, want 2", got)
	}
	if got := Chunk(nil, 10); got != nil {
		t.Fatalf("Chunk(nil) = %v, want nil", got)
	}
}

func TestPartition(t *testing.T) {
	t.Parallel()

	entries := []domain.URLEntry{
		{Loc: "https://x.com/1", Group: "a"},
		{Loc: "https://x.com/2", Group: "b"},
		{Loc: "https://x.com/3", Group: "a"},
	}

	groups := Partition(entries, domain.GroupingCategory)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].Key != "a" || len(groups[0].Entries) != 2 || groups[0].Entries[1].Loc != "https://x.com/3" {
		t.Fatalf("group a = %+v", groups[0])
	}

	none := Partition(entries, domain.GroupingNone)
	if len(none) != 1 || len(none[0].Entries) != 3 {
		t.Fatalf("grouping none = %+v, want one group with 3 entries", none)
	}
}

func TestPartitionUngrouped(t *testing.T) {
	t.Parallel()

	groups := Partition([]domain.URLEntry{{Loc: "https://x.com/1"}}, domain.GroupingStoreID)
	if len(groups) != 1 || groups[0].Key != UngroupedKey {
		t.Fatalf("groups = %+v, want ungrouped", groups)
	}
}

func TestWriteURLSet(t *testing.T) {
	t.Parallel()

	entries := []domain.URLEntry{
		{Loc: "https://x.com/a?b=1&c=2", Lastmod: "2024-02-29", RowNumber: 1},
		{Loc: "https://x.com/d", Changefreq: domain.ChangefreqDaily, Priority: "0.9", RowNumber: 2},
	}

	var buf bytes.Buffer
	if err := WriteURLSet(&buf, entries, Defaults{Changefreq: domain.ChangefreqWeekly, Priority: "0.5"}); err != nil {
		t.Fatalf("WriteURLSet() error = %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, xml.Header) {
		t.Fatal("document should start with the xml header")
	}
	if !strings.Contains(out, `<urlset xmlns="`+Namespace+`">`) {
		t.Fatalf("missing urlset root: %s", out)
	}
	if !strings.Contains(out, "<loc>https://x.com/a?b=1&amp;c=2</loc>") {
		t.Fatalf("loc not escaped: %s", out)
	}

	var parsed struct {
		URLs []struct {
			Loc        string `xml:"loc"`
			Lastmod    string `xml:"lastmod"`
			Changefreq string `xml:"changefreq"`
			Priority   string `xml:"priority"`
		} `xml:"url"`
	}
	if err := xml.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("xml.Unmarshal() error = %v", err)
	}
	if len(parsed.URLs) != 2 {
		t.Fatalf("urls = %d, want 2", len(parsed.URLs))
	}
	if parsed.URLs[0].Changefreq != "weekly" || parsed.URLs[0].Priority != "0.5" {
		t.Fatalf("defaults not applied: %+v", parsed.URLs[0])
	}
	if parsed.URLs[1].Changefreq != "daily" || parsed.URLs[1].Priority != "0.9" {
		t.Fatalf("entry values should win over defaults: %+v", parsed.URLs[1])
	}
	if parsed.URLs[0].Lastmod != "2024-02-29" || parsed.URLs[1].Lastmod != "" {
		t.Fatalf("lastmod = %q,%q", parsed.URLs[0].Lastmod, parsed.URLs[1].Lastmod)
	}
}

func TestWriteURLSetRejectsEmptyLoc(t *testing.T) {
	t.Parallel()

	err := WriteURLSet(&bytes.Buffer{}, []domain.URLEntry{{Loc: " ", RowNumber: 7}}, Defaults{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("WriteURLSet() error = %v, want ErrValidation", err)
	}
}

func TestWriteIndex(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	locs := []string{"https://x.com/sitemaps/sitemap-1.xml", "https://x.com/sitemaps/sitemap-2.xml"}
	if err := WriteIndex(&buf, locs, "2024-01-01"); err != nil {
		t.Fatalf("WriteIndex() error = %v", err)
	}

	var parsed struct {
		XMLName  xml.Name `xml:"sitemapindex"`
		Sitemaps []struct {
			Loc string `xml:"loc"`
		} `xml:"sitemap"`
	}
	if err := xml.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("xml.Unmarshal() error = %v", err)
	}
	if len(parsed.Sitemaps) != 2 || parsed.Sitemaps[1].Loc != locs[1] {
		t.Fatalf("sitemaps = %+v", parsed.Sitemaps)
	}
}

func TestFileNameAndLocation(t *testing.T) {
	t.Parallel()

	if got := FileName("", 2); got != "sitemap-2.xml" {
		t.Fatalf("FileName() = %q", got)
	}
	if got := FileName("Summer Shoes", 1); got != "sitemap-summer-shoes-1.xml" {
		t.Fatalf("FileName() = %q", got)
	}
	if got := Location("https://x.com/sitemaps/", "sitemap-1.xml"); got != "https://x.com/sitemaps/sitemap-1.xml" {
		t.Fatalf("Location() = %q", got)
	}
}
