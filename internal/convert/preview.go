package convert

import (
	"context"
	"errors"
	"io"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/pattern"
	"github.com/kursadbilgin/sitemap-engine/internal/rowsource"
)

const (
	DefaultMaxPreview  = 10
	maxExcludedReasons = 3
)

// PreviewResult summarizes a bounded sample of a file.
type PreviewResult struct {
	ValidCount      int      `json:"validCount"`
	ExcludedCount   int      `json:"excludedCount"`
	ExcludedReasons []string `json:"excludedReasons"`
	SampleURLs      []string `json:"sampleUrls"`
	TotalSampled    int      `json:"totalSampled"`
}

// Preview resolves at most 2*maxPreview rows and reports the first maxPreview
// URLs together with up to three distinct exclusion reasons.
func Preview(
	ctx context.Context,
	source rowsource.Source,
	urlPattern string,
	mapping domain.ColumnMapping,
	maxPreview int,
) (*PreviewResult, error) {
	if maxPreview <= 0 {
		maxPreview = DefaultMaxPreview
	}

	result := &PreviewResult{
		ExcludedReasons: []string{},
		SampleURLs:      []string{},
	}
	seenReasons := make(map[string]struct{}, maxExcludedReasons)

	for result.TotalSampled < 2*maxPreview {
		row, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		result.TotalSampled++

		res := pattern.Resolve(urlPattern, row.Data, mapping)
		if res.Excluded {
			result.ExcludedCount++
			if _, ok := seenReasons[res.Reason]; !ok && len(result.ExcludedReasons) < maxExcludedReasons {
				seenReasons[res.Reason] = struct{}{}
				result.ExcludedReasons = append(result.ExcludedReasons, res.Reason)
			}
			continue
		}

		result.ValidCount++
		if len(result.SampleURLs) < maxPreview {
			result.SampleURLs = append(result.SampleURLs, res.URL)
		}
	}

	return result, nil
}
