package domain

import (
	"fmt"
	"strings"
	"time"
)

// LastmodLayout is the only accepted lastmod format.
const LastmodLayout = "2006-01-02"

// Changefreq is the sitemap protocol change frequency hint.
type Changefreq string

const (
	ChangefreqAlways  Changefreq = "always"
	ChangefreqHourly  Changefreq = "hourly"
	ChangefreqDaily   Changefreq = "daily"
	ChangefreqWeekly  Changefreq = "weekly"
	ChangefreqMonthly Changefreq = "monthly"
	ChangefreqYearly  Changefreq = "yearly"
	ChangefreqNever   Changefreq = "never"
)

func (c Changefreq) String() string { return string(c) }

func (c Changefreq) IsValid() bool {
	switch c {
	case ChangefreqAlways, ChangefreqHourly, ChangefreqDaily, ChangefreqWeekly,
		ChangefreqMonthly, ChangefreqYearly, ChangefreqNever:
		return true
	}
	return false
}

func ParseChangefreqFromString(s string) (Changefreq, error) {
	cf := Changefreq(strings.ToLower(strings.TrimSpace(s)))
	if !cf.IsValid() {
		return "", fmt.Errorf("%w: invalid changefreq %q", ErrValidation, s)
	}
	return cf, nil
}

// URLEntry is one accepted row after pattern resolution.
type URLEntry struct {
	Loc        string     `json:"loc"`
	RowNumber  int        `json:"rowNumber"`
	Lastmod    string     `json:"lastmod,omitempty"`
	Changefreq Changefreq `json:"changefreq,omitempty"`
	Priority   string     `json:"priority,omitempty"`
	Group      string     `json:"group,omitempty"`
}

// IsValidLastmod reports whether s is YYYY-MM-DD and names a real calendar date.
func IsValidLastmod(s string) bool {
	if len(s) != len(LastmodLayout) {
		return false
	}
	_, err := time.Parse(LastmodLayout, s)
	return err == nil
}

// ConversionStatistics are the per-file counters of a processing run.
type ConversionStatistics struct {
	TotalURLs      int `json:"totalUrls"`
	ValidURLs      int `json:"validUrls"`
	ExcludedURLs   int `json:"excludedUrls"`
	DuplicateURLs  int `json:"duplicateUrls"`
	InvalidLastmod int `json:"invalidLastmod"`
}

// Add returns the sum of s and other.
func (s ConversionStatistics) Add(other ConversionStatistics) ConversionStatistics {
	return ConversionStatistics{
		TotalURLs:      s.TotalURLs + other.TotalURLs,
		ValidURLs:      s.ValidURLs + other.ValidURLs,
		ExcludedURLs:   s.ExcludedURLs + other.ExcludedURLs,
		DuplicateURLs:  s.DuplicateURLs + other.DuplicateURLs,
		InvalidLastmod: s.InvalidLastmod + other.InvalidLastmod,
	}
}

// Balanced reports whether total equals valid + excluded + duplicate.
func (s ConversionStatistics) Balanced() bool {
	return s.TotalURLs == s.ValidURLs+s.ExcludedURLs+s.DuplicateURLs
}
