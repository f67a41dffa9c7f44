// Package repositories implements PostgreSQL persistence for the engine.
// Every method runs on the workspace-scoped connection from the request
// context; row-level security makes cross-workspace reads impossible.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/database"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// dataSourceRepository implements services.DataSourceStore using PostgreSQL.
// The derived structures (registry, preview, overrides) persist as JSONB so
// a definition and everything inferred from it commit atomically.
type dataSourceRepository struct{}

func NewDataSourceRepository() *dataSourceRepository {
	return &dataSourceRepository{}
}

const dataSourceColumns = `
	id, workspace_id, name, query_mode, structured_config, query_text,
	column_registry, column_overrides, preview_config, preview_overrides,
	default_filters, default_sort, parameters, refresh_policy,
	schema_version, status, created_at, updated_at, deleted_at`

func (r *dataSourceRepository) Create(ctx context.Context, ds *models.DataSource) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	cols, err := marshalDerived(ds)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_data_sources (
			id, workspace_id, name, query_mode, structured_config, query_text,
			column_registry, column_overrides, preview_config, preview_overrides,
			default_filters, default_sort, parameters, refresh_policy,
			schema_version, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err = scope.Conn.Exec(ctx, query,
		ds.ID, ds.WorkspaceID, ds.Name, ds.QueryMode,
		cols.structured, ds.QueryText,
		cols.registry, cols.columnOverrides, cols.preview, cols.previewOverrides,
		cols.filters, cols.sort, cols.parameters, cols.refresh,
		ds.SchemaVersion, ds.Status, ds.CreatedAt, ds.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert data source: %w", err)
	}
	return nil
}

func (r *dataSourceRepository) Update(ctx context.Context, ds *models.DataSource) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	ds.UpdatedAt = time.Now()
	cols, err := marshalDerived(ds)
	if err != nil {
		return err
	}

	query := `
		UPDATE engine_data_sources
		SET name = $2, query_mode = $3, structured_config = $4, query_text = $5,
		    column_registry = $6, column_overrides = $7,
		    preview_config = $8, preview_overrides = $9,
		    default_filters = $10, default_sort = $11, parameters = $12,
		    refresh_policy = $13, schema_version = $14, status = $15,
		    updated_at = $16
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := scope.Conn.Exec(ctx, query,
		ds.ID, ds.Name, ds.QueryMode, cols.structured, ds.QueryText,
		cols.registry, cols.columnOverrides, cols.preview, cols.previewOverrides,
		cols.filters, cols.sort, cols.parameters, cols.refresh,
		ds.SchemaVersion, ds.Status, ds.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update data source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataSourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	query := `SELECT ` + dataSourceColumns + `
		FROM engine_data_sources
		WHERE id = $1 AND deleted_at IS NULL`

	ds, err := scanDataSource(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}
	return ds, nil
}

func (r *dataSourceRepository) List(ctx context.Context) ([]*models.DataSource, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	query := `SELECT ` + dataSourceColumns + `
		FROM engine_data_sources
		WHERE deleted_at IS NULL
		ORDER BY created_at`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var out []*models.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func (r *dataSourceRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	query := `
		UPDATE engine_data_sources
		SET status = $2, deleted_at = $3, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := scope.Conn.Exec(ctx, query, id, models.StatusDeleted, time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

type derivedColumns struct {
	structured       []byte
	registry         []byte
	columnOverrides  []byte
	preview          []byte
	previewOverrides []byte
	filters          []byte
	sort             []byte
	parameters       []byte
	refresh          []byte
}

func marshalDerived(ds *models.DataSource) (*derivedColumns, error) {
	var c derivedColumns
	var err error
	marshal := func(dst *[]byte, v any) {
		if err != nil {
			return
		}
		*dst, err = json.Marshal(v)
	}
	marshal(&c.structured, ds.StructuredConfig)
	marshal(&c.registry, ds.ColumnRegistry)
	marshal(&c.columnOverrides, ds.ColumnOverrides)
	marshal(&c.preview, ds.PreviewConfig)
	marshal(&c.previewOverrides, ds.PreviewOverrides)
	marshal(&c.filters, ds.DefaultFilters)
	marshal(&c.sort, ds.DefaultSort)
	marshal(&c.parameters, ds.Parameters)
	marshal(&c.refresh, ds.RefreshPolicy)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data source: %w", err)
	}
	return &c, nil
}

func scanDataSource(row pgx.Row) (*models.DataSource, error) {
	var ds models.DataSource
	var structured, registry, columnOverrides, preview, previewOverrides []byte
	var filters, sortKeys, parameters, refresh []byte

	err := row.Scan(
		&ds.ID, &ds.WorkspaceID, &ds.Name, &ds.QueryMode, &structured, &ds.QueryText,
		&registry, &columnOverrides, &preview, &previewOverrides,
		&filters, &sortKeys, &parameters, &refresh,
		&ds.SchemaVersion, &ds.Status, &ds.CreatedAt, &ds.UpdatedAt, &ds.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	unmarshal := func(src []byte, dst any) {
		if err != nil || len(src) == 0 || string(src) == "null" {
			return
		}
		err = json.Unmarshal(src, dst)
	}
	unmarshal(structured, &ds.StructuredConfig)
	unmarshal(registry, &ds.ColumnRegistry)
	unmarshal(columnOverrides, &ds.ColumnOverrides)
	unmarshal(preview, &ds.PreviewConfig)
	unmarshal(previewOverrides, &ds.PreviewOverrides)
	unmarshal(filters, &ds.DefaultFilters)
	unmarshal(sortKeys, &ds.DefaultSort)
	unmarshal(parameters, &ds.Parameters)
	unmarshal(refresh, &ds.RefreshPolicy)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal data source: %w", err)
	}
	return &ds, nil
}
