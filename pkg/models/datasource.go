package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryMode distinguishes the two authoring surfaces.
type QueryMode string

const (
	QueryModeStructured QueryMode = "structured"
	QueryModeFreeText   QueryMode = "free_text"
)

// DataSourceStatus is the lifecycle state of a data source.
type DataSourceStatus string

const (
	StatusDraft     DataSourceStatus = "draft"
	StatusValidated DataSourceStatus = "validated"
	StatusActive    DataSourceStatus = "active"
	StatusDeleted   DataSourceStatus = "deleted"
)

// RefreshMode governs result caching.
type RefreshMode string

const (
	RefreshLive   RefreshMode = "live"
	RefreshCached RefreshMode = "cached"
	RefreshManual RefreshMode = "manual"
)

// RefreshPolicy is the caching policy of a data source. TTLSeconds applies
// only to RefreshCached.
type RefreshPolicy struct {
	Mode       RefreshMode `json:"mode"`
	TTLSeconds int         `json:"ttl_seconds,omitempty"`
}

// TTL returns the cache expiry for a cached policy.
func (p RefreshPolicy) TTL() time.Duration {
	return time.Duration(p.TTLSeconds) * time.Second
}

// QueryParameter defines a single named parameter of a data source query.
// Values are always bound, never spliced into query text.
type QueryParameter struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Default  any       `json:"default,omitempty"`
}

// ColumnKind classifies how a projected column was derived.
type ColumnKind string

const (
	ColumnKindDirect      ColumnKind = "direct"
	ColumnKindAggregate   ColumnKind = "aggregate"
	ColumnKindConditional ColumnKind = "conditional"
	ColumnKindUnresolved  ColumnKind = "unresolved"
)

// ColumnRegistryEntry is the self-describing schema of one output column.
// SourceEntity and SourceField are empty for computed columns. Editable
// implies SourceEntity, SourceField, and EntityIDColumn are all set and the
// field is a direct (non-formula, non-aggregate) field.
type ColumnRegistryEntry struct {
	ColumnName     string     `json:"column_name"`
	DisplayLabel   string     `json:"display_label"`
	DataType       FieldType  `json:"data_type"`
	Kind           ColumnKind `json:"kind"`
	SourceEntity   string     `json:"source_entity,omitempty"`
	SourceField    string     `json:"source_field,omitempty"`
	EntityIDColumn string     `json:"entity_id_column,omitempty"`
	Editable       bool       `json:"editable"`
	Hidden         bool       `json:"hidden"`
	IsAggregate    bool       `json:"is_aggregate"`
}

// ColumnOverride is an author correction to a generated registry entry. It
// persists independently of query edits until the named output column
// disappears entirely.
type ColumnOverride struct {
	ColumnName     string     `json:"column_name"`
	DataType       *FieldType `json:"data_type,omitempty"`
	DisplayLabel   *string    `json:"display_label,omitempty"`
	SourceEntity   *string    `json:"source_entity,omitempty"`
	SourceField    *string    `json:"source_field,omitempty"`
	ForceReadOnly  bool       `json:"force_read_only,omitempty"`
	Stale          bool       `json:"stale,omitempty"`
	StaleDiagnosis string     `json:"stale_diagnosis,omitempty"`
}

// PreviewSource tags whether a preview entry came from automatic inference
// or an author override.
type PreviewSource string

const (
	PreviewSourceAuto   PreviewSource = "auto"
	PreviewSourceManual PreviewSource = "manual"
)

// PreviewEntry is one ranked previewable entity reference. IdentifierColumn
// names the registry column holding that row's identifier for EntityType.
// A stale entry references a column no longer in the registry; it is flagged,
// never silently dropped.
type PreviewEntry struct {
	EntityType       string        `json:"entity_type"`
	JoinAlias        string        `json:"join_alias,omitempty"`
	IdentifierColumn string        `json:"identifier_column"`
	PriorityRank     int           `json:"priority_rank"`
	Label            string        `json:"label"`
	Excluded         bool          `json:"excluded"`
	Source           PreviewSource `json:"source"`
	Stale            bool          `json:"stale,omitempty"`
	StaleDiagnosis   string        `json:"stale_diagnosis,omitempty"`
}

// PreviewOverride is a stored author override of the automatic preview
// result. Overrides survive re-inference; they are merged on top of the
// automatic pass, never overwritten by it.
type PreviewOverride struct {
	EntityType       string  `json:"entity_type"`
	JoinAlias        string  `json:"join_alias,omitempty"`
	IdentifierColumn string  `json:"identifier_column,omitempty"`
	PriorityRank     *int    `json:"priority_rank,omitempty"`
	Label            *string `json:"label,omitempty"`
	Excluded         *bool   `json:"excluded,omitempty"`
	// ForceInclude makes a computed column previewable even though detection
	// did not flag it.
	ForceInclude   bool   `json:"force_include,omitempty"`
	Stale          bool   `json:"stale,omitempty"`
	StaleDiagnosis string `json:"stale_diagnosis,omitempty"`
}

// FilterOp is a comparison operator in a default or extra filter.
type FilterOp string

const (
	FilterOpEq       FilterOp = "eq"
	FilterOpNeq      FilterOp = "neq"
	FilterOpGt       FilterOp = "gt"
	FilterOpGte      FilterOp = "gte"
	FilterOpLt       FilterOp = "lt"
	FilterOpLte      FilterOp = "lte"
	FilterOpContains FilterOp = "contains"
	FilterOpIsNull   FilterOp = "is_null"
	FilterOpNotNull  FilterOp = "not_null"
)

// Filter is one column predicate. Filters compose with AND; extra filters
// supplied at execution time can only narrow the data source's defaults.
type Filter struct {
	Column string   `json:"column"`
	Op     FilterOp `json:"op"`
	Value  any      `json:"value,omitempty"`
}

// SortDirection orders a sort key.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortKey is one ordering term.
type SortKey struct {
	Column    string        `json:"column"`
	Direction SortDirection `json:"direction"`
}

// DataSource is a named, reusable query definition together with everything
// derived from it: the column registry, the preview configuration, and the
// schema version consumers pin against.
type DataSource struct {
	ID          uuid.UUID        `json:"id"`
	WorkspaceID uuid.UUID        `json:"workspace_id"`
	Name        string           `json:"name"`
	QueryMode   QueryMode        `json:"query_mode"`
	// StructuredConfig is set when QueryMode is structured.
	StructuredConfig *StructuredQuery `json:"structured_config,omitempty"`
	// QueryText is the free-form query text, or the rendered equivalent of
	// StructuredConfig kept for transparency.
	QueryText string `json:"query_text"`

	ColumnRegistry  []ColumnRegistryEntry `json:"column_registry"`
	ColumnOverrides []ColumnOverride      `json:"column_overrides,omitempty"`

	PreviewConfig    []PreviewEntry    `json:"preview_config"`
	PreviewOverrides []PreviewOverride `json:"preview_overrides,omitempty"`

	DefaultFilters []Filter         `json:"default_filters,omitempty"`
	DefaultSort    []SortKey        `json:"default_sort,omitempty"`
	Parameters     []QueryParameter `json:"parameters,omitempty"`
	RefreshPolicy  RefreshPolicy    `json:"refresh_policy"`

	// SchemaVersion increases only on a breaking registry change.
	SchemaVersion int              `json:"schema_version"`
	Status        DataSourceStatus `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// RegistryEntry returns the registry entry for a column name.
func (ds *DataSource) RegistryEntry(columnName string) (ColumnRegistryEntry, bool) {
	for _, e := range ds.ColumnRegistry {
		if e.ColumnName == columnName {
			return e, true
		}
	}
	return ColumnRegistryEntry{}, false
}
