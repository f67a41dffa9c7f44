// Package services implements the query engine: translation, column
// registry generation, preview resolution, execution, edit trace-back, and
// schema version tracking.
package services

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/catalog"
	"github.com/dbower44022/CRMExtender-sub005/pkg/identity"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
	enginesql "github.com/dbower44022/CRMExtender-sub005/pkg/sql"
)

// workspacePredicate is the tenant-scope predicate the engine injects into
// every executable query. It reads the session variable set by
// database.WithWorkspace, so the author can neither express nor override it.
const workspacePredicate = "workspace_id = current_setting('app.current_workspace_id')::uuid"

// Translator compiles both authoring surfaces into one validated QueryPlan.
type Translator struct {
	catalog *catalog.Catalog
	ids     *identity.Registry
	logger  *zap.Logger
}

// NewTranslator creates a Translator over the given virtual schema.
func NewTranslator(cat *catalog.Catalog, ids *identity.Registry, logger *zap.Logger) *Translator {
	return &Translator{catalog: cat, ids: ids, logger: logger}
}

// TranslateStructured compiles a visual-builder configuration. Translation
// is deterministic and total: the same configuration always yields the same
// plan, and plan.SQL is the byte-exact free-form rendering of it.
func (t *Translator) TranslateStructured(cfg *models.StructuredQuery) (*models.QueryPlan, error) {
	if cfg == nil || cfg.RootEntity == "" {
		return nil, apperrors.NewValidationError("", "structured query has no root entity")
	}
	if len(cfg.Columns) == 0 {
		return nil, apperrors.NewValidationError(cfg.RootEntity, "structured query selects no columns")
	}

	root, err := t.catalog.ResolveTable(cfg.RootEntity)
	if err != nil {
		return nil, err
	}

	plan := &models.QueryPlan{
		Mode:       models.QueryModeStructured,
		Parameters: cfg.Parameters,
		Filters:    cfg.Filters,
		Sort:       cfg.Sort,
	}

	aliases := newAliasTable()
	plan.Root = models.PlanEntity{TypeName: root.Name, Alias: aliases.assign(t.aliasBase(root), "")}
	entityByAlias := map[string]models.EntityType{plan.Root.Alias: root}

	for i, jc := range cfg.Joins {
		sourceAlias := jc.SourceAlias
		if sourceAlias == "" {
			sourceAlias = plan.Root.Alias
		}
		source, ok := entityByAlias[sourceAlias]
		if !ok {
			return nil, apperrors.NewValidationError(sourceAlias, "join references unknown source alias")
		}

		field, ferr := t.catalog.ResolveField(source, jc.RelationField)
		if ferr != nil {
			return nil, ferr
		}
		if field.Type != models.FieldTypeEntityRef || field.RelatedEntity == "" {
			return nil, apperrors.NewValidationError(jc.RelationField, "join field is not a relation")
		}

		target, terr := t.catalog.ResolveTable(field.RelatedEntity)
		if terr != nil {
			return nil, terr
		}

		kind := jc.Kind
		if kind == "" {
			kind = models.JoinLeft
		}
		alias := aliases.assign(t.aliasBase(target), jc.Alias)
		entityByAlias[alias] = target

		plan.Joins = append(plan.Joins, models.PlanJoin{
			Entity:        models.PlanEntity{TypeName: target.Name, Alias: alias},
			Kind:          kind,
			RelationField: jc.RelationField,
			Condition: fmt.Sprintf("%s.%s = %s.%s",
				sourceAlias, field.Name, alias, models.IdentifierColumn),
			Ordinal: i,
		})
	}

	names := newNameTable()
	for _, sel := range cfg.Columns {
		proj, perr := t.structuredProjection(sel, plan, entityByAlias, names)
		if perr != nil {
			return nil, perr
		}
		plan.Projections = append(plan.Projections, *proj)
	}

	t.addIdentifierProjections(plan, names)

	if err := t.validateFilterColumns(plan); err != nil {
		return nil, err
	}

	plan.SQL = renderStructuredSQL(plan, false, t.catalog)
	plan.ExecSQL = renderStructuredSQL(plan, true, t.catalog)

	if err := enginesql.ValidateParameterDefinitions(plan.SQL, plan.Parameters); err != nil {
		return nil, apperrors.NewValidationError("", err.Error())
	}

	return plan, nil
}

// RenderSQL renders the byte-exact free-form equivalent of a structured
// configuration, so authors can eject to free-form mode and trust nothing
// changed.
func (t *Translator) RenderSQL(cfg *models.StructuredQuery) (string, error) {
	plan, err := t.TranslateStructured(cfg)
	if err != nil {
		return "", err
	}
	return plan.SQL, nil
}

// TranslateFreeText parses free-form query text against the virtual schema.
// Every table and column reference must resolve; failures carry the byte
// offset of the offending identifier and a nearest-name suggestion.
func (t *Translator) TranslateFreeText(queryText string, params []models.QueryParameter) (*models.QueryPlan, error) {
	normalized, err := enginesql.ValidateReadOnly(queryText)
	if err != nil {
		return nil, err
	}

	if problems := enginesql.FindParametersInStringLiterals(normalized); len(problems) > 0 {
		return nil, apperrors.NewValidationError(problems[0],
			"parameter placeholder inside a string literal binds as text, not as a value")
	}
	if err := enginesql.ValidateParameterDefinitions(normalized, params); err != nil {
		return nil, apperrors.NewValidationError("", err.Error())
	}

	parsed, err := enginesql.ParseSelect(normalized)
	if err != nil {
		return nil, err
	}
	if parsed == nil || parsed.From.Name == "" {
		return nil, apperrors.NewValidationError("", "query must be a SELECT with a FROM clause")
	}

	root, err := t.resolveTableAt(parsed.From.Name, parsed.From.Pos)
	if err != nil {
		return nil, err
	}

	plan := &models.QueryPlan{
		Mode:       models.QueryModeFreeText,
		Parameters: params,
		SQL:        normalized,
	}

	rootAlias := parsed.From.Alias
	if rootAlias == "" {
		rootAlias = parsed.From.Name
	}
	plan.Root = models.PlanEntity{TypeName: root.Name, Alias: rootAlias}
	entityByAlias := map[string]models.EntityType{rootAlias: root}

	for i, j := range parsed.Joins {
		target, jerr := t.resolveTableAt(j.Name, j.Pos)
		if jerr != nil {
			return nil, jerr
		}
		alias := j.Alias
		if alias == "" {
			alias = j.Name
		}
		entityByAlias[alias] = target

		kind := models.JoinKind(j.JoinKind)
		if kind == "" {
			kind = models.JoinInner // bare JOIN is an inner join in SQL
		}
		plan.Joins = append(plan.Joins, models.PlanJoin{
			Entity:  models.PlanEntity{TypeName: target.Name, Alias: alias},
			Kind:    kind,
			Ordinal: i,
		})
	}

	names := newNameTable()
	for _, item := range parsed.Items {
		if item.Kind == enginesql.ExprStar {
			return nil, &apperrors.ValidationError{
				Position:   item.Pos,
				Identifier: item.Expr,
				Message:    "select columns explicitly; * cannot produce a stable column registry",
			}
		}
		proj, perr := t.freeTextProjection(item, plan, entityByAlias, names)
		if perr != nil {
			return nil, perr
		}
		plan.Projections = append(plan.Projections, *proj)
	}
	if len(plan.Projections) == 0 {
		return nil, apperrors.NewValidationError("", "query selects no columns")
	}

	// Resolve every remaining qualified reference (WHERE, GROUP BY, ORDER
	// BY) so typos anywhere in the text fail with a diagnostic.
	for _, ref := range enginesql.AllQualifiedRefs(normalized) {
		if _, rerr := t.resolveRef(ref, entityByAlias); rerr != nil {
			return nil, rerr
		}
	}

	t.addIdentifierProjections(plan, names)

	plan.ExecSQL = physicalizeFreeText(normalized, parsed, t.catalog)

	return plan, nil
}

func (t *Translator) resolveTableAt(name string, pos int) (models.EntityType, error) {
	et, err := t.catalog.ResolveTable(name)
	if err != nil {
		if ve, ok := err.(*apperrors.ValidationError); ok {
			ve.Position = pos
		}
		return models.EntityType{}, err
	}
	return et, nil
}

// resolveRef resolves a column reference against the plan's aliases. An
// unqualified reference binds to the single entity that has the field; if
// more than one does, the reference is ambiguous.
func (t *Translator) resolveRef(ref enginesql.ColumnRef, entityByAlias map[string]models.EntityType) (resolved struct {
	Alias  string
	Entity models.EntityType
	Field  models.FieldSpec
}, err error) {
	if ref.Qualifier != "" {
		et, ok := entityByAlias[ref.Qualifier]
		if !ok {
			ve := apperrors.NewValidationError(ref.Qualifier, "unknown table alias")
			ve.Position = ref.Pos
			return resolved, ve
		}
		field, ferr := t.catalog.ResolveField(et, ref.Field)
		if ferr != nil {
			if ve, ok := ferr.(*apperrors.ValidationError); ok {
				ve.Position = ref.Pos
			}
			return resolved, ferr
		}
		resolved.Alias, resolved.Entity, resolved.Field = ref.Qualifier, et, field
		return resolved, nil
	}

	matches := 0
	for alias, et := range entityByAlias {
		if f, ok := et.Field(ref.Field); ok {
			matches++
			resolved.Alias, resolved.Entity, resolved.Field = alias, et, f
		}
	}
	switch matches {
	case 1:
		return resolved, nil
	case 0:
		ve := apperrors.NewValidationError(ref.Field, "unknown column")
		ve.Position = ref.Pos
		ve.Suggestion = t.suggestField(ref.Field, entityByAlias)
		return resolved, ve
	default:
		ve := apperrors.NewValidationError(ref.Field, "ambiguous column; qualify it with a table alias")
		ve.Position = ref.Pos
		return resolved, ve
	}
}

func (t *Translator) suggestField(name string, entityByAlias map[string]models.EntityType) string {
	for _, et := range entityByAlias {
		if _, err := t.catalog.ResolveField(et, name); err == nil {
			continue
		} else if ve, ok := err.(*apperrors.ValidationError); ok && ve.Suggestion != "" {
			return ve.Suggestion
		}
	}
	return ""
}

func (t *Translator) structuredProjection(
	sel models.ColumnSelection,
	plan *models.QueryPlan,
	entityByAlias map[string]models.EntityType,
	names *nameTable,
) (*models.Projection, error) {
	if sel.Field != "" {
		alias, fieldName := splitQualified(sel.Field, plan.Root.Alias)
		et, ok := entityByAlias[alias]
		if !ok {
			return nil, apperrors.NewValidationError(alias, "column references unknown alias")
		}
		field, err := t.catalog.ResolveField(et, fieldName)
		if err != nil {
			return nil, err
		}
		name := sel.Alias
		if name == "" {
			name = field.Name
		}
		return &models.Projection{
			ColumnName:   names.assign(name),
			Expr:         alias + "." + field.Name,
			Kind:         models.ColumnKindDirect,
			SourceAlias:  alias,
			SourceEntity: et.Name,
			SourceField:  field.Name,
			DataType:     field.Type,
		}, nil
	}

	if sel.Expr == "" {
		return nil, apperrors.NewValidationError("", "column selection has neither field nor expression")
	}

	// Reuse the SELECT-list analyzer for raw expressions so both paths
	// classify identically.
	parsed, err := enginesql.ParseSelect("select " + sel.Expr)
	if err != nil || parsed == nil || len(parsed.Items) == 0 {
		return nil, apperrors.NewValidationError(sel.Expr, "unparseable column expression")
	}
	item := parsed.Items[0]
	item.Expr = sel.Expr
	if sel.Alias != "" {
		item.Alias = sel.Alias
	}
	return t.freeTextProjection(item, plan, entityByAlias, names)
}

func (t *Translator) freeTextProjection(
	item enginesql.SelectItem,
	plan *models.QueryPlan,
	entityByAlias map[string]models.EntityType,
	names *nameTable,
) (*models.Projection, error) {
	proj := &models.Projection{
		ColumnName: names.assign(item.Alias),
		Expr:       item.Expr,
	}

	switch item.Kind {
	case enginesql.ExprDirect:
		r, err := t.resolveRef(*item.Ref, entityByAlias)
		if err != nil {
			return nil, err
		}
		proj.Kind = models.ColumnKindDirect
		proj.SourceAlias = r.Alias
		proj.SourceEntity = r.Entity.Name
		proj.SourceField = r.Field.Name
		proj.DataType = r.Field.Type

	case enginesql.ExprAggregate:
		proj.Kind = models.ColumnKindAggregate
		proj.Aggregate = item.Aggregate
		if item.Operand != nil {
			r, err := t.resolveRef(*item.Operand, entityByAlias)
			if err != nil {
				return nil, err
			}
			proj.OperandField = r.Field.Name
			proj.DataType = aggregateType(item.Aggregate, r.Field.Type)
		} else {
			proj.DataType = aggregateType(item.Aggregate, models.FieldTypeDecimal)
		}

	case enginesql.ExprConditional:
		proj.Kind = models.ColumnKindConditional
		proj.DataType = t.conditionalType(item.Branches, entityByAlias)

	default:
		// The analyzer could not resolve the expression (nested sub-select,
		// exotic function). Default to text, not editable; the author may
		// correct the entry manually afterward.
		proj.Kind = models.ColumnKindUnresolved
		proj.DataType = models.FieldTypeText
	}

	return proj, nil
}

// aggregateType infers an aggregate column's type from the aggregate kind:
// counts are integral, sums and averages numeric, min/max keep the operand's
// type.
func aggregateType(kind models.AggregateKind, operand models.FieldType) models.FieldType {
	switch kind {
	case models.AggregateCount:
		return models.FieldTypeInteger
	case models.AggregateSum, models.AggregateAvg:
		if operand == models.FieldTypeInteger {
			return models.FieldTypeInteger
		}
		return models.FieldTypeDecimal
	case models.AggregateMin, models.AggregateMax:
		return operand
	default:
		return models.FieldTypeText
	}
}

// conditionalType is the union of CASE branch value types; disagreeing
// branches fall back to text.
func (t *Translator) conditionalType(branches []string, entityByAlias map[string]models.EntityType) models.FieldType {
	var unified models.FieldType
	for _, b := range branches {
		bt := t.branchType(b, entityByAlias)
		if unified == "" {
			unified = bt
			continue
		}
		if unified != bt {
			return models.FieldTypeText
		}
	}
	if unified == "" {
		return models.FieldTypeText
	}
	return unified
}

func (t *Translator) branchType(branch string, entityByAlias map[string]models.EntityType) models.FieldType {
	branch = strings.TrimSpace(branch)
	switch {
	case strings.HasPrefix(branch, "'"):
		return models.FieldTypeText
	case isInteger(branch):
		return models.FieldTypeInteger
	case isDecimal(branch):
		return models.FieldTypeDecimal
	case strings.EqualFold(branch, "true"), strings.EqualFold(branch, "false"):
		return models.FieldTypeBoolean
	case strings.EqualFold(branch, "null"):
		return models.FieldTypeText
	}

	qualifier, field := "", branch
	if idx := strings.IndexByte(branch, '.'); idx > 0 {
		qualifier, field = branch[:idx], branch[idx+1:]
	}
	if r, err := t.resolveRef(enginesql.ColumnRef{Qualifier: qualifier, Field: field, Pos: -1}, entityByAlias); err == nil {
		return r.Field.Type
	}
	return models.FieldTypeText
}

// addIdentifierProjections appends a hidden identifier projection for every
// entity in the plan that does not already project its identifier, so
// preview resolution and edit trace-back always have a target even when the
// author never selected the identifier column.
func (t *Translator) addIdentifierProjections(plan *models.QueryPlan, names *nameTable) {
	projected := make(map[string]bool) // alias -> id already projected
	for _, p := range plan.Projections {
		if p.Kind == models.ColumnKindDirect && p.SourceField == models.IdentifierColumn {
			projected[p.SourceAlias] = true
		}
	}

	for _, pe := range plan.Entities() {
		if projected[pe.Alias] {
			continue
		}
		plan.Projections = append(plan.Projections, models.Projection{
			ColumnName:   names.assign(pe.Alias + "_" + models.IdentifierColumn),
			Expr:         pe.Alias + "." + models.IdentifierColumn,
			Kind:         models.ColumnKindDirect,
			SourceAlias:  pe.Alias,
			SourceEntity: pe.TypeName,
			SourceField:  models.IdentifierColumn,
			DataType:     models.FieldTypeText,
			Implicit:     true,
		})
	}
}

// validateFilterColumns checks structured filters and sort keys against the
// plan's output columns.
func (t *Translator) validateFilterColumns(plan *models.QueryPlan) error {
	known := make(map[string]bool, len(plan.Projections))
	for _, p := range plan.Projections {
		known[p.ColumnName] = true
	}
	for _, f := range plan.Filters {
		if !known[f.Column] {
			return apperrors.NewValidationError(f.Column, "filter references unknown output column")
		}
	}
	for _, s := range plan.Sort {
		if !known[s.Column] {
			return apperrors.NewValidationError(s.Column, "sort references unknown output column")
		}
	}
	return nil
}

// aliasBase derives a deterministic alias for an entity: its immutable type
// prefix when registered, otherwise the first three letters of its name.
func (t *Translator) aliasBase(et models.EntityType) string {
	if et.TypePrefix != "" {
		return et.TypePrefix
	}
	if p, ok := t.ids.PrefixFor(et.Name); ok {
		return p
	}
	lower := strings.ToLower(et.Name)
	if len(lower) > 3 {
		lower = lower[:3]
	}
	return lower
}

func splitQualified(field, defaultAlias string) (alias, name string) {
	if idx := strings.IndexByte(field, '.'); idx > 0 {
		return field[:idx], field[idx+1:]
	}
	return defaultAlias, field
}

func isInteger(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isDecimal(s string) bool {
	dot := strings.IndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return false
	}
	return isInteger(s[:dot]) && isInteger(s[dot+1:])
}

// aliasTable assigns deterministic, collision-free table aliases.
type aliasTable struct {
	used map[string]int
}

func newAliasTable() *aliasTable {
	return &aliasTable{used: make(map[string]int)}
}

// assign returns the preferred alias when given, otherwise the base, with a
// numeric suffix when the same base appears again (second occurrence gets
// "2").
func (a *aliasTable) assign(base, preferred string) string {
	if preferred != "" {
		a.used[preferred]++
		return preferred
	}
	a.used[base]++
	if n := a.used[base]; n > 1 {
		return base + strconv.Itoa(n)
	}
	return base
}

// nameTable deduplicates output column names deterministically.
type nameTable struct {
	used map[string]int
}

func newNameTable() *nameTable {
	return &nameTable{used: make(map[string]int)}
}

func (n *nameTable) assign(name string) string {
	n.used[name]++
	if c := n.used[name]; c > 1 {
		return name + "_" + strconv.Itoa(c)
	}
	return name
}
