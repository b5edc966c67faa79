package domain

import (
	"fmt"
	"strings"
	"time"
)

// Grouping selects the logical field used to partition sitemap files.
type Grouping string

const (
	GroupingNone     Grouping = "none"
	GroupingCategory Grouping = "category"
	GroupingStoreID  Grouping = "store_id"
)

func (g Grouping) String() string { return string(g) }

func (g Grouping) IsValid() bool {
	switch g {
	case GroupingNone, GroupingCategory, GroupingStoreID:
		return true
	}
	return false
}

// Field returns the logical mapping field backing the grouping, "" for none.
func (g Grouping) Field() string {
	switch g {
	case GroupingCategory:
		return FieldCategory
	case GroupingStoreID:
		return FieldStoreID
	}
	return ""
}

func ParseGroupingFromString(s string) (Grouping, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return GroupingNone, nil
	}
	g := Grouping(trimmed)
	if !g.IsValid() {
		return "", fmt.Errorf("%w: invalid grouping %q", ErrValidation, s)
	}
	return g, nil
}

// GroupingConfig controls how entries are partitioned into sitemap files.
type GroupingConfig struct {
	Grouping Grouping `json:"grouping"`
}

// SitemapConfig carries uniform defaults applied to entries lacking them.
type SitemapConfig struct {
	BaseURL    string     `json:"baseUrl"`
	Changefreq Changefreq `json:"changefreq,omitempty"`
	Priority   string     `json:"priority,omitempty"`
	MaxURLs    int        `json:"maxUrls,omitempty"`
}

func (c SitemapConfig) Validate() error {
	if c.Changefreq != "" && !c.Changefreq.IsValid() {
		return fmt.Errorf("%w: invalid changefreq %q", ErrValidation, c.Changefreq)
	}
	if c.MaxURLs < 0 {
		return fmt.Errorf("%w: maxUrls must be positive", ErrValidation)
	}
	return nil
}

// GroupSitemap is one emitted child sitemap file.
type GroupSitemap struct {
	Group    string `json:"group"`
	Name     string `json:"name"`
	Location string `json:"location"`
	URLCount int    `json:"urlCount"`
	Path     string `json:"-"`
}

// GroupError records a group or file that failed without aborting the job.
type GroupError struct {
	Group   string `json:"group,omitempty"`
	FileID  string `json:"fileId,omitempty"`
	Message string `json:"message"`
}

// SitemapJob is the result of one hierarchical sitemap generation.
type SitemapJob struct {
	ID            string         `json:"jobId"`
	BatchID       string         `json:"batchId"`
	Grouping      Grouping       `json:"grouping"`
	TotalGroups   int            `json:"totalGroups"`
	TotalFiles    int            `json:"totalFiles"`
	GroupSitemaps []GroupSitemap `json:"groupSitemaps"`
	SitemapIndex  []string       `json:"sitemapIndex"`
	IndexName     string         `json:"indexName"`
	IndexPath     string         `json:"-"`
	Errors        []GroupError   `json:"errors"`
	CreatedAt     time.Time      `json:"createdAt"`
}
