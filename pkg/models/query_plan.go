package models

// JoinKind is the SQL join kind of a structured join clause. LEFT is the
// default: CRM relations are frequently optional and an INNER default would
// silently hide incomplete records.
type JoinKind string

const (
	JoinLeft  JoinKind = "LEFT"
	JoinInner JoinKind = "INNER"
)

// JoinClause is one ordered join in a structured query definition. The
// author names a relation field on the source entity; the translator expands
// it to an explicit join against the field's related entity type.
type JoinClause struct {
	// RelationField is an entity_ref field on the root entity (or a prior
	// join's entity, named via SourceAlias).
	RelationField string   `json:"relation_field"`
	SourceAlias   string   `json:"source_alias,omitempty"` // empty = root
	Kind          JoinKind `json:"kind,omitempty"`         // empty = LEFT
	Alias         string   `json:"alias,omitempty"`        // empty = target entity table alias
}

// ColumnSelection is one selected output column in a structured query.
// Either Field (qualified "alias.field") or Expr (a raw expression such as
// "COUNT(c.id)") is set.
type ColumnSelection struct {
	Field string `json:"field,omitempty"`
	Expr  string `json:"expr,omitempty"`
	Alias string `json:"alias,omitempty"`
}

// StructuredQuery is the visual-builder query definition. Translation to a
// QueryPlan is deterministic and total: every structured input maps to
// exactly one plan, and the rendered SQL is byte-for-byte reproducible.
type StructuredQuery struct {
	RootEntity string            `json:"root_entity"`
	Joins      []JoinClause      `json:"joins,omitempty"`
	Columns    []ColumnSelection `json:"columns"`
	Filters    []Filter          `json:"filters,omitempty"`
	Sort       []SortKey         `json:"sort,omitempty"`
	Parameters []QueryParameter  `json:"parameters,omitempty"`
}

// AggregateKind names the aggregate function of an aggregate projection.
type AggregateKind string

const (
	AggregateCount AggregateKind = "count"
	AggregateSum   AggregateKind = "sum"
	AggregateMin   AggregateKind = "min"
	AggregateMax   AggregateKind = "max"
	AggregateAvg   AggregateKind = "avg"
)

// PlanEntity is one entity occurrence in a plan, distinguished by alias when
// the same type is joined more than once.
type PlanEntity struct {
	TypeName string `json:"type_name"`
	Alias    string `json:"alias"`
}

// PlanJoin is one resolved join in a plan, in author order. Ordinal 0 is the
// first join; preview ranking uses this order.
type PlanJoin struct {
	Entity        PlanEntity `json:"entity"`
	Kind          JoinKind   `json:"kind"`
	RelationField string     `json:"relation_field,omitempty"`
	// Condition is the rendered ON clause.
	Condition string `json:"condition"`
	Ordinal   int    `json:"ordinal"`
}

// Projection is one analyzed output expression. The translator classifies
// every projection exactly once; the registry generator and the preview
// resolver both consume this analysis rather than re-inferring at render
// time.
type Projection struct {
	ColumnName string     `json:"column_name"`
	Expr       string     `json:"expr"`
	Kind       ColumnKind `json:"kind"`

	// Direct projections
	SourceAlias  string `json:"source_alias,omitempty"`
	SourceEntity string `json:"source_entity,omitempty"`
	SourceField  string `json:"source_field,omitempty"`

	// Aggregate projections
	Aggregate AggregateKind `json:"aggregate,omitempty"`
	// OperandField is the field inside the aggregate, when resolvable.
	OperandField string `json:"operand_field,omitempty"`

	DataType FieldType `json:"data_type"`
	// Implicit marks identifier columns the engine added so preview and
	// trace-back always have a target; they default to hidden.
	Implicit bool `json:"implicit,omitempty"`
}

// QueryPlan is the single intermediate representation both authoring paths
// converge on. It is already validated and tenant-scoped when handed to the
// execution layer.
type QueryPlan struct {
	Mode        QueryMode        `json:"mode"`
	Root        PlanEntity       `json:"root"`
	Joins       []PlanJoin       `json:"joins,omitempty"`
	Projections []Projection     `json:"projections"`
	Filters     []Filter         `json:"filters,omitempty"`
	Sort        []SortKey        `json:"sort,omitempty"`
	Parameters  []QueryParameter `json:"parameters,omitempty"`
	// SQL is the rendered (structured path) or normalized (free-text path)
	// query text against the virtual schema. This is what authors see.
	SQL string `json:"sql"`
	// ExecSQL is the executable form: physical table names and the injected
	// workspace-scope predicates. Never shown to authors.
	ExecSQL string `json:"-"`
}

// Entities returns every distinct entity occurrence in the plan, root first,
// then joins in author order.
func (p *QueryPlan) Entities() []PlanEntity {
	out := make([]PlanEntity, 0, len(p.Joins)+1)
	out = append(out, p.Root)
	for _, j := range p.Joins {
		out = append(out, j.Entity)
	}
	return out
}

// MutationTarget is the resolved destination of a traced-back cell edit.
type MutationTarget struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Field      string `json:"field"`
	NewValue   any    `json:"new_value"`
}

// ColumnChangeKind classifies one column delta between registry versions.
type ColumnChangeKind string

const (
	ColumnAdded       ColumnChangeKind = "added"
	ColumnRemoved     ColumnChangeKind = "removed"
	ColumnRenamed     ColumnChangeKind = "renamed"
	ColumnTypeChanged ColumnChangeKind = "type_changed"
)

// ColumnChange is one entry of a registry diff.
type ColumnChange struct {
	Column    string           `json:"column"`
	Kind      ColumnChangeKind `json:"kind"`
	RenamedTo string           `json:"renamed_to,omitempty"`
	OldType   FieldType        `json:"old_type,omitempty"`
	NewType   FieldType        `json:"new_type,omitempty"`
}

// Breaking reports whether this change invalidates dependent consumers.
func (c ColumnChange) Breaking() bool {
	return c.Kind != ColumnAdded
}
