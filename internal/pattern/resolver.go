// Package pattern resolves URL templates against a row of tabular data.
package pattern

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]+?)\}`)

// Result is the outcome of resolving a pattern against one row.
type Result struct {
	URL      string
	Excluded bool
	Reason   string
	Missing  []string
}

// Placeholders returns the distinct placeholder names in order of first occurrence.
func Placeholders(pattern string) []string {
	matches := placeholderRe.FindAllStringSubmatch(pattern, -1)
	names := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Resolve substitutes every placeholder in pattern with the trimmed row value
// it refers to. If any placeholder has no value the row is excluded and no
// partial URL is returned. A pattern with malformed braces excludes every row.
// Resolve never panics.
func Resolve(pattern string, row map[string]string, mapping domain.ColumnMapping) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Excluded: true,
				Reason:   fmt.Sprintf("failed to resolve url pattern: %v", r),
			}
		}
	}()

	if err := domain.CheckPlaceholderSyntax(pattern); err != nil {
		return Result{Excluded: true, Reason: err.Error()}
	}

	names := Placeholders(pattern)
	values := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		value := strings.TrimSpace(lookup(name, row, mapping))
		if value == "" {
			missing = append(missing, name)
			continue
		}
		values[name] = value
	}

	if len(missing) > 0 {
		return Result{
			Excluded: true,
			Missing:  missing,
			Reason:   "missing required fields: " + strings.Join(missing, ", "),
		}
	}

	url := placeholderRe.ReplaceAllStringFunc(pattern, func(token string) string {
		return values[token[1:len(token)-1]]
	})

	return Result{URL: url}
}

// lookup finds the row value for a placeholder name: {link} goes through the
// mapping, then any mapping key or column equal to name, then the raw row.
func lookup(name string, row map[string]string, mapping domain.ColumnMapping) string {
	if name == domain.FieldLink {
		return row[mapping.Link()]
	}

	if column, ok := mapping[name]; ok && strings.TrimSpace(column) != "" {
		return row[strings.TrimSpace(column)]
	}
	for _, column := range mapping {
		if strings.TrimSpace(column) == name {
			return row[name]
		}
	}

	return row[name]
}
