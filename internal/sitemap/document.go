// Package sitemap renders sitemap protocol documents and splits URL entries
// into groups and sitemap-sized chunks.
package sitemap

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
)

const (
	Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

	// MaxURLsPerSitemap is the protocol limit of <url> entries per file.
	MaxURLsPerSitemap = 50000
)

type urlElement struct {
	XMLName    xml.Name `xml:"url"`
	Loc        string   `xml:"loc"`
	Lastmod    string   `xml:"lastmod,omitempty"`
	Changefreq string   `xml:"changefreq,omitempty"`
	Priority   string   `xml:"priority,omitempty"`
}

type sitemapElement struct {
	XMLName xml.Name `xml:"sitemap"`
	Loc     string   `xml:"loc"`
	Lastmod string   `xml:"lastmod,omitempty"`
}

// Defaults are applied to entries that carry no value of their own.
type Defaults struct {
	Changefreq domain.Changefreq
	Priority   string
}

// WriteURLSet streams a <urlset> document for entries to w.
func WriteURLSet(w io.Writer, entries []domain.URLEntry, defaults Defaults) error {
	return writeDocument(w, "urlset", func(enc *xml.Encoder) error {
		for i, entry := range entries {
			el, err := toURLElement(entry, defaults)
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			if err := enc.Encode(el); err != nil {
				return fmt.Errorf("failed to encode url entry %d: %w", i, err)
			}
		}
		return nil
	})
}

// WriteIndex streams a <sitemapindex> document referencing locs to w.
func WriteIndex(w io.Writer, locs []string, lastmod string) error {
	return writeDocument(w, "sitemapindex", func(enc *xml.Encoder) error {
		for _, loc := range locs {
			if err := enc.Encode(sitemapElement{Loc: loc, Lastmod: lastmod}); err != nil {
				return fmt.Errorf("failed to encode sitemap reference: %w", err)
			}
		}
		return nil
	})
}

func writeDocument(w io.Writer, root string, body func(enc *xml.Encoder) error) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	start := xml.StartElement{
		Name: xml.Name{Local: root},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: Namespace}},
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := body(enc); err != nil {
		return err
	}
	if err := enc.EncodeToken(start.End()); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func toURLElement(entry domain.URLEntry, defaults Defaults) (urlElement, error) {
	loc := strings.TrimSpace(entry.Loc)
	if loc == "" {
		return urlElement{}, fmt.Errorf("%w: entry at row %d has an empty loc", domain.ErrValidation, entry.RowNumber)
	}

	el := urlElement{Loc: loc, Lastmod: entry.Lastmod}

	changefreq := entry.Changefreq
	if changefreq == "" {
		changefreq = defaults.Changefreq
	}
	el.Changefreq = changefreq.String()

	el.Priority = entry.Priority
	if el.Priority == "" {
		el.Priority = defaults.Priority
	}

	return el, nil
}
