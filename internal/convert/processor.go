// Package convert turns a row source into a stream of sitemap URL entries.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/pattern"
	"github.com/kursadbilgin/sitemap-engine/internal/rowsource"
)

// Options tune the metadata attached to each entry.
type Options struct {
	IncludeLastmod bool              `json:"includeLastmod"`
	LastmodField   string            `json:"lastmodField,omitempty"`
	Changefreq     domain.Changefreq `json:"changefreq,omitempty"`
	Priority       string            `json:"priority,omitempty"`
	Grouping       domain.Grouping   `json:"grouping,omitempty"`
}

func (o Options) Validate() error {
	if o.Changefreq != "" && !o.Changefreq.IsValid() {
		return fmt.Errorf("%w: invalid changefreq %q", domain.ErrValidation, o.Changefreq)
	}
	if o.Grouping != "" && !o.Grouping.IsValid() {
		return fmt.Errorf("%w: invalid grouping %q", domain.ErrValidation, o.Grouping)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.LastmodField) == "" {
		o.LastmodField = domain.FieldLastmod
	}
	if o.Grouping == "" {
		o.Grouping = domain.GroupingNone
	}
	return o
}

// Processor is a single-pass pull iterator over the accepted entries of one
// file. Duplicates are detected within this run only; the first occurrence of
// a URL wins.
type Processor struct {
	source  rowsource.Source
	pattern string
	mapping domain.ColumnMapping
	opts    Options

	seen  map[string]struct{}
	stats domain.ConversionStatistics
	done  bool

	onExcluded func(row rowsource.Row, reason string)
}

func NewProcessor(source rowsource.Source, urlPattern string, mapping domain.ColumnMapping, opts Options) *Processor {
	return &Processor{
		source:  source,
		pattern: urlPattern,
		mapping: mapping,
		opts:    opts.withDefaults(),
		seen:    make(map[string]struct{}),
	}
}

// OnExcluded registers a callback invoked for every excluded row.
func (p *Processor) OnExcluded(fn func(row rowsource.Row, reason string)) {
	p.onExcluded = fn
}

// Next returns the next accepted entry, or io.EOF when the source is drained.
func (p *Processor) Next(ctx context.Context) (domain.URLEntry, error) {
	if p.done {
		return domain.URLEntry{}, io.EOF
	}

	for {
		row, err := p.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			p.done = true
			return domain.URLEntry{}, io.EOF
		}
		if err != nil {
			return domain.URLEntry{}, err
		}

		p.stats.TotalURLs++
		res := pattern.Resolve(p.pattern, row.Data, p.mapping)
		if res.Excluded {
			p.stats.ExcludedURLs++
			if p.onExcluded != nil {
				p.onExcluded(row, res.Reason)
			}
			continue
		}

		if _, dup := p.seen[res.URL]; dup {
			p.stats.DuplicateURLs++
			continue
		}
		p.seen[res.URL] = struct{}{}
		p.stats.ValidURLs++

		return p.buildEntry(row, res.URL), nil
	}
}

// Stats returns the counters accumulated so far; final once Next returned io.EOF.
func (p *Processor) Stats() domain.ConversionStatistics {
	return p.stats
}

func (p *Processor) buildEntry(row rowsource.Row, loc string) domain.URLEntry {
	entry := domain.URLEntry{
		Loc:        loc,
		RowNumber:  row.RowNumber,
		Changefreq: p.opts.Changefreq,
		Priority:   strings.TrimSpace(p.opts.Priority),
	}

	if p.opts.IncludeLastmod {
		if raw := strings.TrimSpace(p.fieldValue(row.Data, p.opts.LastmodField)); raw != "" {
			if domain.IsValidLastmod(raw) {
				entry.Lastmod = raw
			} else {
				p.stats.InvalidLastmod++
			}
		}
	}

	if field := p.opts.Grouping.Field(); field != "" {
		entry.Group = strings.TrimSpace(p.fieldValue(row.Data, field))
	}

	return entry
}

// fieldValue reads a logical field through the mapping, falling back to a
// column with the same name.
func (p *Processor) fieldValue(data map[string]string, field string) string {
	if column := p.mapping.Column(field); column != "" {
		return data[column]
	}
	return data[field]
}

// Collect drains the processor into memory.
func Collect(ctx context.Context, p *Processor) ([]domain.URLEntry, domain.ConversionStatistics, error) {
	var entries []domain.URLEntry
	for {
		entry, err := p.Next(ctx)
		if errors.Is(err, io.EOF) {
			return entries, p.Stats(), nil
		}
		if err != nil {
			return entries, p.Stats(), err
		}
		entries = append(entries, entry)
	}
}
