// Package schema resolves the ordered column set used for tabular export.
package schema

import (
	"sort"

	"github.com/Sternrassler/opportunity-harvester/pkg/record"
)

// DefaultPriority lists the identifying fields that lead the column order
// when present in the data.
var DefaultPriority = []string{
	"id",
	"title",
	"seo_url",
	"public_url",
	"type",
	"subtype",
	"status",
	"registerCount",
	"viewsCount",
	"end_date",
}

// Schema is an ordered list of unique column names.
type Schema []string

// Resolve computes the union of keys across all rows. Priority names that
// occur come first in priority order; the remaining keys follow sorted
// lexicographically. Duplicate priority names are ignored.
func Resolve(rows []record.Row, priority []string) Schema {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}

	cols := make(Schema, 0, len(seen))
	used := make(map[string]struct{}, len(priority))
	for _, p := range priority {
		if _, ok := seen[p]; !ok {
			continue
		}
		if _, dup := used[p]; dup {
			continue
		}
		used[p] = struct{}{}
		cols = append(cols, p)
	}

	rest := make([]string, 0, len(seen)-len(cols))
	for k := range seen {
		if _, ok := used[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)

	return append(cols, rest...)
}
