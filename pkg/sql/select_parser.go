package sql

import (
	"regexp"
	"strings"

	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// ExprKind classifies a parsed SELECT-list expression.
type ExprKind string

const (
	ExprDirect      ExprKind = "direct"      // column or alias.column reference
	ExprAggregate   ExprKind = "aggregate"   // COUNT/SUM/MIN/MAX/AVG(...)
	ExprConditional ExprKind = "conditional" // CASE ... END
	ExprStar        ExprKind = "star"        // * or alias.*
	ExprOther       ExprKind = "other"       // anything the analyzer cannot resolve
)

// ColumnRef is a (possibly qualified) column reference with its byte offset
// in the original query text.
type ColumnRef struct {
	Qualifier string
	Field     string
	Pos       int
}

// SelectItem is one parsed and classified SELECT-list expression.
type SelectItem struct {
	Expr  string
	Alias string // output column name (explicit alias or derived default)
	Pos   int

	Kind      ExprKind
	Ref       *ColumnRef           // set for ExprDirect
	Aggregate models.AggregateKind // set for ExprAggregate
	Operand   *ColumnRef           // aggregate operand, when it is a simple reference
	Branches  []string             // CASE branch result expressions, for type inference
}

// TableRef is a FROM or JOIN table reference.
type TableRef struct {
	Name     string
	Alias    string
	JoinKind string // "", "LEFT", "INNER", ...
	Pos      int
}

// ParsedSelect is the structural analysis of a single SELECT statement.
type ParsedSelect struct {
	Items []SelectItem
	From  TableRef
	Joins []TableRef
}

var (
	asAliasPattern   = regexp.MustCompile(`(?i)\s+as\s+(\w+)\s*$`)
	aggregatePattern = regexp.MustCompile(`(?i)^(count|sum|min|max|avg)\s*\(`)
	qualifiedPattern = regexp.MustCompile(`\b([a-zA-Z_]\w*)\.([a-zA-Z_]\w*|\*)`)
	bareRefPattern   = regexp.MustCompile(`^[a-zA-Z_]\w*$`)
	casePattern      = regexp.MustCompile(`(?i)^case\b`)
	caseBranchRegex  = regexp.MustCompile(`(?i)\b(?:then|else)\s+((?:[a-zA-Z_]\w*\.)?[a-zA-Z_]\w*|'[^']*'|[0-9]+(?:\.[0-9]+)?)`)
	fromTablePattern = regexp.MustCompile(`(?i)^\s*([a-zA-Z_]\w*)(?:\s+(?:as\s+)?([a-zA-Z_]\w*))?`)
	joinPattern      = regexp.MustCompile(`(?i)\b(left|right|inner|full)?(?:\s+outer)?\s*\bjoin\s+([a-zA-Z_]\w*)(?:\s+(?:as\s+)?([a-zA-Z_]\w*))?`)
)

// joinTrailingKeywords are words that can follow a join table where an alias
// would sit.
var joinTrailingKeywords = map[string]bool{
	"on": true, "using": true, "left": true, "right": true,
	"inner": true, "full": true, "join": true, "where": true,
	"group": true, "order": true, "limit": true,
}

// ParseSelect performs a structural analysis of a SELECT statement: the
// classified output expressions and the table references in author order.
//
// This is a pragmatic clause-level scan, not a full SQL grammar. It handles
// the shapes query authors actually produce (qualified columns, aliases,
// aggregates, CASE expressions, LEFT/INNER joins); deeply nested sub-selects
// in the projection list classify as ExprOther, which downstream layers
// treat as unresolved.
func ParseSelect(queryText string) (*ParsedSelect, error) {
	lower := strings.ToLower(queryText)

	selectIdx := indexAtDepthZero(lower, "select")
	if selectIdx == -1 {
		return nil, nil // not a SELECT
	}
	listStart := selectIdx + len("select")

	fromIdx := indexAtDepthZeroFrom(lower, listStart, " from ")
	listEnd := len(queryText)
	if fromIdx != -1 {
		listEnd = fromIdx
	}

	parsed := &ParsedSelect{}
	for _, span := range splitTopLevel(queryText[listStart:listEnd], listStart) {
		item := parseSelectItem(queryText, span.start, span.end)
		if item != nil {
			parsed.Items = append(parsed.Items, *item)
		}
	}

	if fromIdx != -1 {
		parseTables(queryText, fromIdx+len(" from "), parsed)
	}

	return parsed, nil
}

// AllQualifiedRefs returns every alias.field reference outside string
// literals, for whole-query identifier resolution.
func AllQualifiedRefs(queryText string) []ColumnRef {
	masked := maskStringLiterals(queryText)
	var refs []ColumnRef
	for _, loc := range qualifiedPattern.FindAllStringSubmatchIndex(masked, -1) {
		field := queryText[loc[4]:loc[5]]
		if field == "*" {
			continue
		}
		refs = append(refs, ColumnRef{
			Qualifier: queryText[loc[2]:loc[3]],
			Field:     field,
			Pos:       loc[0],
		})
	}
	return refs
}

type span struct{ start, end int }

// splitTopLevel splits a select list on commas outside parentheses,
// returning absolute byte spans.
func splitTopLevel(list string, offset int) []span {
	var spans []span
	depth := 0
	start := 0
	for i, ch := range list {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				spans = append(spans, span{offset + start, offset + i})
				start = i + 1
			}
		}
	}
	spans = append(spans, span{offset + start, offset + len(list)})
	return spans
}

func parseSelectItem(queryText string, start, end int) *SelectItem {
	raw := queryText[start:end]
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	pos := start + strings.Index(raw, trimmed[:1])

	expr := trimmed
	alias := ""
	if m := asAliasPattern.FindStringSubmatchIndex(trimmed); m != nil {
		alias = trimmed[m[2]:m[3]]
		expr = strings.TrimSpace(trimmed[:m[0]])
	} else if implicit := implicitAlias(trimmed); implicit != "" {
		alias = implicit
		expr = strings.TrimSpace(strings.TrimSuffix(trimmed, implicit))
	}

	item := &SelectItem{Expr: expr, Alias: alias, Pos: pos}
	classifyExpression(item, pos)
	if item.Alias == "" {
		item.Alias = defaultColumnName(item)
	}
	return item
}

// implicitAlias detects "expr alias" without AS, the way authors often write
// "COUNT(*) total". Returns "" when the trailing word is part of the
// expression itself.
func implicitAlias(expr string) string {
	if strings.Count(expr, "(") != strings.Count(expr, ")") {
		return ""
	}
	parts := strings.Fields(expr)
	if len(parts) < 2 {
		return ""
	}
	last := parts[len(parts)-1]
	if strings.ContainsAny(last, "()*.,'\"") {
		return ""
	}
	// CASE expressions end with END; anything after it is the alias, but END
	// itself is not.
	if strings.EqualFold(last, "end") {
		return ""
	}
	if !bareRefPattern.MatchString(last) {
		return ""
	}
	// A two-word direct expression like "DISTINCT name" is not aliasing.
	if strings.EqualFold(parts[0], "distinct") && len(parts) == 2 {
		return ""
	}
	return last
}

func classifyExpression(item *SelectItem, pos int) {
	expr := item.Expr

	if expr == "*" || strings.HasSuffix(expr, ".*") {
		item.Kind = ExprStar
		return
	}

	if m := aggregatePattern.FindStringSubmatch(expr); m != nil {
		item.Kind = ExprAggregate
		item.Aggregate = models.AggregateKind(strings.ToLower(m[1]))
		inner := innerExpression(expr)
		if ref := simpleRef(inner, pos); ref != nil {
			item.Operand = ref
		}
		return
	}

	if casePattern.MatchString(expr) {
		item.Kind = ExprConditional
		for _, m := range caseBranchRegex.FindAllStringSubmatch(expr, -1) {
			item.Branches = append(item.Branches, m[1])
		}
		return
	}

	if ref := simpleRef(expr, pos); ref != nil {
		item.Kind = ExprDirect
		item.Ref = ref
		return
	}

	item.Kind = ExprOther
}

// innerExpression returns the text between the outermost parentheses.
func innerExpression(expr string) string {
	open := strings.Index(expr, "(")
	close := strings.LastIndex(expr, ")")
	if open == -1 || close <= open {
		return ""
	}
	return strings.TrimSpace(expr[open+1 : close])
}

// simpleRef parses "field" or "qualifier.field" and nothing else.
func simpleRef(expr string, pos int) *ColumnRef {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "*" {
		return nil
	}
	if loc := qualifiedPattern.FindStringSubmatchIndex(expr); loc != nil && loc[0] == 0 && loc[1] == len(expr) {
		field := expr[loc[4]:loc[5]]
		if field == "*" {
			return nil
		}
		return &ColumnRef{Qualifier: expr[loc[2]:loc[3]], Field: field, Pos: pos}
	}
	if bareRefPattern.MatchString(expr) {
		return &ColumnRef{Field: expr, Pos: pos}
	}
	return nil
}

func defaultColumnName(item *SelectItem) string {
	switch item.Kind {
	case ExprDirect:
		return item.Ref.Field
	case ExprAggregate:
		return string(item.Aggregate)
	case ExprConditional:
		return "case_result"
	case ExprStar:
		return "*"
	default:
		cleaned := regexp.MustCompile(`[^\w]`).ReplaceAllString(item.Expr, "")
		return strings.ToLower(cleaned)
	}
}

func parseTables(queryText string, fromStart int, parsed *ParsedSelect) {
	rest := queryText[fromStart:]

	if m := fromTablePattern.FindStringSubmatchIndex(rest); m != nil {
		parsed.From = TableRef{
			Name: rest[m[2]:m[3]],
			Pos:  fromStart + m[2],
		}
		if m[4] != -1 {
			alias := rest[m[4]:m[5]]
			if !joinTrailingKeywords[strings.ToLower(alias)] {
				parsed.From.Alias = alias
			}
		}
	}

	for _, m := range joinPattern.FindAllStringSubmatchIndex(rest, -1) {
		ref := TableRef{
			Name: rest[m[4]:m[5]],
			Pos:  fromStart + m[4],
		}
		if m[2] != -1 {
			ref.JoinKind = strings.ToUpper(rest[m[2]:m[3]])
		}
		if m[6] != -1 {
			alias := rest[m[6]:m[7]]
			if !joinTrailingKeywords[strings.ToLower(alias)] {
				ref.Alias = alias
			}
		}
		parsed.Joins = append(parsed.Joins, ref)
	}
}

// indexAtDepthZero finds a keyword at parenthesis depth zero.
func indexAtDepthZero(lower, keyword string) int {
	return indexAtDepthZeroFrom(lower, 0, keyword)
}

func indexAtDepthZeroFrom(lower string, start int, keyword string) int {
	depth := 0
	for i := start; i < len(lower); i++ {
		switch lower[i] {
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(lower[i:], keyword) {
				return i
			}
		}
	}
	return -1
}

// maskStringLiterals replaces the contents of single-quoted literals with
// spaces so reference scans never match text inside them.
func maskStringLiterals(queryText string) string {
	out := []byte(queryText)
	inString := false
	for i := 0; i < len(out); i++ {
		if out[i] == '\'' {
			inString = !inString
			continue
		}
		if inString {
			out[i] = ' '
		}
	}
	return string(out)
}
