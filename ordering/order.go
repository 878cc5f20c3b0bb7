// Package ordering maps user sort requests onto a safe, total ordering and computes pages and neighbours.
package ordering

import (
	"regexp"
	"strconv"
	"strings"

	"gorm.io/gorm/clause"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Order is a resolved sort: an allow-listed field, its column and a direction
type Order struct {
	Field     string
	Column    string
	Direction Direction
}

// DefaultOrder is newest first by id
var DefaultOrder = Order{Field: "id", Column: "id", Direction: Desc}

var columns = map[string]string{
	"weight":       "weight",
	"title":        "title",
	"createdAt":    "created_at",
	"changedAt":    "changed_at",
	"commentCount": "comment_count",
	"viewCount":    "view_count",
	"fileSize":     "file_size",
	"id":           "id",
}

// Older field names still found in stored album settings and links
var aliases = map[string]string{
	"created":   "createdAt",
	"changed":   "changedAt",
	"comments":  "commentCount",
	"visits":    "viewCount",
	"filesize":  "fileSize",
	"timestamp": "id",
}

var limitInDestination = regexp.MustCompile(`(?i)(?:^|[?&])limit=(\d+)`)

// ResolveOrder validates field and direction against the allow-list.
// Empty input selects def; anything invalid selects def as well, or DefaultOrder when def is nil.
func ResolveOrder(field, direction string, def *Order) Order {
	fallback := DefaultOrder
	if def != nil {
		fallback = *def
	}
	field = strings.TrimSpace(field)
	if canonical, ok := aliases[field]; ok {
		field = canonical
	}
	column, ok := columns[field]
	if !ok {
		return fallback
	}
	dir := Direction(strings.ToLower(strings.TrimSpace(direction)))
	if dir != Asc && dir != Desc {
		return fallback
	}
	return Order{Field: field, Column: column, Direction: dir}
}

// ParseOrder reads the "field|direction" form used in settings
func ParseOrder(s string) (Order, bool) {
	field, dir, found := strings.Cut(s, "|")
	if !found {
		return Order{}, false
	}
	order := ResolveOrder(field, dir, &Order{})
	return order, order.Column != ""
}

func (o Order) String() string {
	return o.Field + "|" + string(o.Direction)
}

// Clauses returns the ORDER BY columns. A trailing "id desc" makes the order total
// unless the primary column already is id.
func (o Order) Clauses() clause.OrderBy {
	result := clause.OrderBy{Columns: []clause.OrderByColumn{{
		Column: clause.Column{Name: o.Column},
		Desc:   o.Direction == Desc,
	}}}
	if o.Column != "id" {
		result.Columns = append(result.Columns, clause.OrderByColumn{
			Column: clause.Column{Name: "id"},
			Desc:   true,
		})
	}
	return result
}

// ResolveLimit picks the page size: a positive requested value, otherwise a limit=N
// carried in the redirect destination, otherwise def.
func ResolveLimit(requested, destination string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(requested)); err == nil && n > 0 {
		return n
	}
	if m := limitInDestination.FindStringSubmatch(destination); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return def
}
