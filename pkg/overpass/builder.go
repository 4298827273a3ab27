// Package overpass queries the Overpass API for waterway geometry and
// administrative boundaries within a named search area.
package overpass

import (
	"fmt"
	"strings"
)

// TagFilter is a single tag selector in an Overpass QL statement
type TagFilter struct {
	Key     string
	Value   string
	Pattern string
}

// Tag matches a tag with an exact value
func Tag(key, value string) TagFilter {
	return TagFilter{Key: key, Value: value}
}

// TagRegex matches a tag value against a regular expression
func TagRegex(key, pattern string) TagFilter {
	return TagFilter{Key: key, Pattern: pattern}
}

func (f TagFilter) render() string {
	if f.Pattern != "" {
		return fmt.Sprintf("[%q~%q]", f.Key, f.Pattern)
	}
	return fmt.Sprintf("[%q=%q]", f.Key, f.Value)
}

// Builder composes Overpass QL queries scoped to a named area.
// All queries request JSON output and full geometry.
type Builder struct {
	timeout    int
	area       string
	statements []string
	output     string
}

// NewBuilder creates a builder with the default query timeout and
// geometry output.
func NewBuilder() *Builder {
	return &Builder{
		timeout: 25,
		output:  "geom",
	}
}

// WithTimeout sets the server-side query timeout in seconds
func (b *Builder) WithTimeout(seconds int) *Builder {
	b.timeout = seconds
	return b
}

// WithArea scopes the query to a named area
func (b *Builder) WithArea(name string) *Builder {
	b.area = name
	return b
}

// WithWay adds a way statement with the given tag filters
func (b *Builder) WithWay(filters ...TagFilter) *Builder {
	b.addStatement("way", filters)
	return b
}

// WithRelation adds a relation statement with the given tag filters
func (b *Builder) WithRelation(filters ...TagFilter) *Builder {
	b.addStatement("relation", filters)
	return b
}

// WithOutput overrides the output statement (default "geom")
func (b *Builder) WithOutput(output string) *Builder {
	b.output = output
	return b
}

func (b *Builder) addStatement(element string, filters []TagFilter) {
	var sb strings.Builder
	sb.WriteString(element)
	for _, f := range filters {
		sb.WriteString(f.render())
	}
	if b.area != "" {
		sb.WriteString("(area.searchArea)")
	}
	sb.WriteString(";")
	b.statements = append(b.statements, sb.String())
}

// Build returns the complete Overpass QL query
func (b *Builder) Build() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d];\n", b.timeout)
	if b.area != "" {
		fmt.Fprintf(&sb, "area[name=%q]->.searchArea;\n", b.area)
	}
	// A single statement stands alone; multiple statements need a union
	if len(b.statements) == 1 {
		sb.WriteString(b.statements[0])
		sb.WriteString("\n")
	} else if len(b.statements) > 1 {
		sb.WriteString("(\n")
		for _, stmt := range b.statements {
			sb.WriteString("  ")
			sb.WriteString(stmt)
			sb.WriteString("\n")
		}
		sb.WriteString(");\n")
	}
	fmt.Fprintf(&sb, "out %s;", b.output)
	return sb.String()
}

// WaterwayQuery builds the query for river and stream ways and relations
// within the named area.
func WaterwayQuery(area string) string {
	return NewBuilder().
		WithArea(area).
		WithWay(TagRegex("waterway", "river|stream")).
		WithRelation(TagRegex("waterway", "river|stream")).
		Build()
}

// BoundaryQuery builds the query for the administrative boundary relation
// of the named area.
func BoundaryQuery(area string) string {
	return NewBuilder().
		WithArea(area).
		WithRelation(Tag("boundary", "administrative"), Tag("name", area)).
		Build()
}
