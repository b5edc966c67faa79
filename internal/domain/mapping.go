package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Logical fields a source column can be mapped to.
const (
	FieldLink     = "link"
	FieldCategory = "category"
	FieldStoreID  = "store_id"
	FieldLastmod  = "lastmod"
)

// ColumnMapping maps a logical field name to the source column holding it.
type ColumnMapping map[string]string

// Link returns the source column mapped to the link field.
func (m ColumnMapping) Link() string {
	return strings.TrimSpace(m[FieldLink])
}

// Column returns the source column for a logical field, or "" when unmapped.
func (m ColumnMapping) Column(field string) string {
	return strings.TrimSpace(m[field])
}

func (m ColumnMapping) Validate() error {
	if m.Link() == "" {
		return fmt.Errorf("%w: column mapping must include %q", ErrValidation, FieldLink)
	}

	fields := make([]string, 0, len(m))
	for field := range m {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	usedBy := make(map[string]string, len(m))
	for _, field := range fields {
		column := strings.TrimSpace(m[field])
		if column == "" {
			continue
		}
		if other, ok := usedBy[column]; ok {
			return fmt.Errorf("%w: column %q is mapped to both %q and %q", ErrValidation, column, other, field)
		}
		usedBy[column] = field
	}

	return nil
}

// CheckPlaceholderSyntax rejects empty, nested or unbalanced braces. Braces
// may only appear as the delimiters of a non-empty {name} token.
func CheckPlaceholderSyntax(pattern string) error {
	open := -1
	for i, r := range pattern {
		switch r {
		case '{':
			if open >= 0 {
				return fmt.Errorf("%w: nested '{' at position %d in url pattern", ErrValidation, i)
			}
			open = i
		case '}':
			if open < 0 {
				return fmt.Errorf("%w: unmatched '}' at position %d in url pattern", ErrValidation, i)
			}
			if strings.TrimSpace(pattern[open+1:i]) == "" {
				return fmt.Errorf("%w: empty placeholder at position %d in url pattern", ErrValidation, open)
			}
			open = -1
		}
	}
	if open >= 0 {
		return fmt.Errorf("%w: unclosed '{' at position %d in url pattern", ErrValidation, open)
	}
	return nil
}

// URLPattern is a URL template containing {placeholder} tokens.
type URLPattern string

func (p URLPattern) String() string { return string(p) }

// Validate checks the pattern has a protocol separator and references the
// mapped link either as {link} or by its source column name.
func (p URLPattern) Validate(mapping ColumnMapping) error {
	raw := strings.TrimSpace(string(p))
	if raw == "" {
		return fmt.Errorf("%w: url pattern is required", ErrValidation)
	}
	if !strings.Contains(raw, "://") {
		return fmt.Errorf("%w: url pattern must contain a protocol (e.g. https://)", ErrValidation)
	}
	if err := CheckPlaceholderSyntax(raw); err != nil {
		return err
	}

	if strings.Contains(raw, "{"+FieldLink+"}") {
		return nil
	}
	if link := mapping.Link(); link != "" && strings.Contains(raw, "{"+link+"}") {
		return nil
	}

	return fmt.Errorf("%w: url pattern must reference {%s}", ErrValidation, FieldLink)
}
