package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/catalog"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
	enginesql "github.com/dbower44022/CRMExtender-sub005/pkg/sql"
)

// renderStructuredSQL renders a structured plan to SQL text. The logical
// form (physical=false) is the author-visible free-form equivalent: virtual
// schema names, no implicit columns, no scope predicates. The physical form
// is the executable inner query: storage tables, implicit identifier
// columns, and the injected workspace predicates.
//
// The logical rendering is deterministic down to the byte: same plan, same
// text.
func renderStructuredSQL(plan *models.QueryPlan, physical bool, cat *catalog.Catalog) string {
	var b strings.Builder

	// Implicit identifier columns ride along in the executable form, except
	// when the plan aggregates: a bare identifier next to an aggregate is
	// not a valid projection, and an aggregated identifier never denotes one
	// record anyway.
	includeImplicit := physical && !planAggregates(plan)

	b.WriteString("SELECT ")
	first := true
	for _, p := range plan.Projections {
		if p.Implicit && !includeImplicit {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(p.Expr)
		b.WriteString(" AS ")
		b.WriteString(p.ColumnName)
	}

	b.WriteString("\nFROM ")
	b.WriteString(tableName(plan.Root.TypeName, physical, cat))
	b.WriteString(" AS ")
	b.WriteString(plan.Root.Alias)

	for _, j := range plan.Joins {
		b.WriteString("\n")
		b.WriteString(string(j.Kind))
		b.WriteString(" JOIN ")
		b.WriteString(tableName(j.Entity.TypeName, physical, cat))
		b.WriteString(" AS ")
		b.WriteString(j.Entity.Alias)
		b.WriteString(" ON ")
		b.WriteString(j.Condition)
		if physical {
			b.WriteString(" AND ")
			b.WriteString(j.Entity.Alias)
			b.WriteString(".")
			b.WriteString(workspacePredicate)
		}
	}

	var where []string
	if physical {
		where = append(where, plan.Root.Alias+"."+workspacePredicate)
	}
	for _, f := range plan.Filters {
		where = append(where, renderFilterLiteral(filterExpr(plan, f.Column), f))
	}
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	if len(plan.Sort) > 0 {
		b.WriteString("\nORDER BY ")
		for i, s := range plan.Sort {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.Column)
			b.WriteString(" ")
			b.WriteString(strings.ToUpper(string(s.Direction)))
		}
	}

	return b.String()
}

func planAggregates(plan *models.QueryPlan) bool {
	for _, p := range plan.Projections {
		if p.Kind == models.ColumnKindAggregate {
			return true
		}
	}
	return false
}

func tableName(typeName string, physical bool, cat *catalog.Catalog) string {
	if !physical {
		return typeName
	}
	if et, err := cat.ResolveTable(typeName); err == nil && et.Table != "" {
		return et.Table
	}
	return typeName
}

// filterExpr maps an output column back to its generating expression so
// structured filters render as valid SQL.
func filterExpr(plan *models.QueryPlan, column string) string {
	for _, p := range plan.Projections {
		if p.ColumnName == column {
			return p.Expr
		}
	}
	return column
}

// renderFilterLiteral renders a structured filter predicate with its value
// inlined as a literal. Parameter placeholders ({name}) pass through and are
// bound at execution time.
func renderFilterLiteral(expr string, f models.Filter) string {
	switch f.Op {
	case models.FilterOpIsNull:
		return expr + " IS NULL"
	case models.FilterOpNotNull:
		return expr + " IS NOT NULL"
	case models.FilterOpContains:
		return expr + "::text ILIKE " + literalValue(fmt.Sprintf("%%%v%%", f.Value))
	default:
		return expr + " " + comparisonOperator(f.Op) + " " + renderValue(f.Value)
	}
}

func comparisonOperator(op models.FilterOp) string {
	switch op {
	case models.FilterOpEq:
		return "="
	case models.FilterOpNeq:
		return "<>"
	case models.FilterOpGt:
		return ">"
	case models.FilterOpGte:
		return ">="
	case models.FilterOpLt:
		return "<"
	case models.FilterOpLte:
		return "<="
	default:
		return "="
	}
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val)
	case string:
		// {name} placeholders stay placeholders; they become bound values.
		if len(enginesql.ExtractParameters(val)) == 1 && strings.HasPrefix(val, "{") && strings.HasSuffix(val, "}") {
			return val
		}
		return literalValue(val)
	default:
		return literalValue(fmt.Sprintf("%v", val))
	}
}

func literalValue(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// physicalizeFreeText swaps the virtual schema table names in a free-text
// query for their storage tables, using the parser's byte positions.
// Workspace isolation for free-text plans is enforced by the row-level
// security policies evaluated on the workspace-scoped connection.
func physicalizeFreeText(queryText string, parsed *enginesql.ParsedSelect, cat *catalog.Catalog) string {
	type swap struct {
		pos  int
		from string
		to   string
	}
	var swaps []swap

	add := func(ref enginesql.TableRef) {
		et, err := cat.ResolveTable(ref.Name)
		if err != nil || et.Table == "" || et.Table == ref.Name {
			return
		}
		swaps = append(swaps, swap{pos: ref.Pos, from: ref.Name, to: et.Table})
	}
	add(parsed.From)
	for _, j := range parsed.Joins {
		add(j)
	}

	sort.Slice(swaps, func(i, j int) bool { return swaps[i].pos > swaps[j].pos })
	out := queryText
	for _, s := range swaps {
		out = out[:s.pos] + s.to + out[s.pos+len(s.from):]
	}
	return out
}

// executeSpec carries everything needed to build one executable statement.
type executeSpec struct {
	plan           *models.QueryPlan
	defaultFilters []models.Filter
	extraFilters   []models.Filter
	sortKeys       []models.SortKey
	paramValues    map[string]any
	rowCap         int
	offset         int
}

// buildExecutable produces the final statement and its ordered bound values.
// The inner query (already workspace-scoped) is wrapped so that the data
// source's default filters, any extra filters, and the sort apply to output
// columns. Extra filters AND-compose with the defaults; nothing supplied at
// execution time can remove a default filter. The row cap requests one extra
// row so truncation is detectable.
func buildExecutable(spec executeSpec) (string, []any, error) {
	bound, args, err := enginesql.BindParameters(spec.plan.ExecSQL, spec.plan.Parameters, spec.paramValues)
	if err != nil {
		return "", nil, apperrors.NewValidationError("", err.Error())
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM (\n")
	b.WriteString(bound)
	b.WriteString("\n) q")

	var where []string
	next := len(args) + 1
	appendFilters := func(filters []models.Filter) {
		for _, f := range filters {
			pred, arg, consumes := boundFilterPredicate(f, next)
			where = append(where, pred)
			if consumes {
				args = append(args, arg)
				next++
			}
		}
	}
	appendFilters(spec.defaultFilters)
	appendFilters(spec.extraFilters)

	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	if len(spec.sortKeys) > 0 {
		b.WriteString("\nORDER BY ")
		for i, s := range spec.sortKeys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteColumn(s.Column))
			b.WriteString(" ")
			b.WriteString(strings.ToUpper(string(s.Direction)))
		}
	}

	b.WriteString("\nLIMIT ")
	b.WriteString(strconv.Itoa(spec.rowCap + 1))
	if spec.offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(spec.offset))
	}

	return b.String(), args, nil
}

// boundFilterPredicate renders one wrapper filter with a bound value.
func boundFilterPredicate(f models.Filter, position int) (pred string, arg any, consumesArg bool) {
	col := quoteColumn(f.Column)
	switch f.Op {
	case models.FilterOpIsNull:
		return col + " IS NULL", nil, false
	case models.FilterOpNotNull:
		return col + " IS NOT NULL", nil, false
	case models.FilterOpContains:
		return fmt.Sprintf("%s::text ILIKE '%%' || $%d || '%%'", col, position), f.Value, true
	default:
		return fmt.Sprintf("%s %s $%d", col, comparisonOperator(f.Op), position), f.Value, true
	}
}

func quoteColumn(name string) string {
	return `q."` + strings.ReplaceAll(name, `"`, ``) + `"`
}
