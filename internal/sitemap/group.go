package sitemap

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
)

// UngroupedKey collects entries that have no value for the grouping field.
const UngroupedKey = "ungrouped"

// Group is a partition of entries sharing one grouping key.
type Group struct {
	Key     string
	Entries []domain.URLEntry
}

// Partition splits entries by group key. Groups are ordered by first
// appearance and keep the relative order of their entries. GroupingNone
// always yields exactly one group.
func Partition(entries []domain.URLEntry, grouping domain.Grouping) []Group {
	if grouping == "" || grouping == domain.GroupingNone {
		return []Group{{Key: "", Entries: entries}}
	}

	index := make(map[string]int)
	var groups []Group
	for _, entry := range entries {
		key := strings.TrimSpace(entry.Group)
		if key == "" {
			key = UngroupedKey
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Entries = append(groups[i].Entries, entry)
	}
	return groups
}

// Chunk splits entries into consecutive pages of at most size entries.
func Chunk(entries []domain.URLEntry, size int) [][]domain.URLEntry {
	if size <= 0 || size > MaxURLsPerSitemap {
		size = MaxURLsPerSitemap
	}
	if len(entries) == 0 {
		return nil
	}

	chunks := make([][]domain.URLEntry, 0, (len(entries)+size-1)/size)
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		chunks = append(chunks, entries[start:end])
	}
	return chunks
}

// FileName names the n-th (1-based) sitemap file of a group.
func FileName(groupKey string, n int) string {
	if groupKey == "" {
		return fmt.Sprintf("sitemap-%d.xml", n)
	}
	s := slug.Make(groupKey)
	if s == "" {
		s = "group"
	}
	return fmt.Sprintf("sitemap-%s-%d.xml", s, n)
}

// IndexFileName is the name of the sitemap index document.
const IndexFileName = "sitemap-index.xml"

// Location joins a public base URL and a file name.
func Location(baseURL string, name string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return name
	}
	return base + "/" + name
}
