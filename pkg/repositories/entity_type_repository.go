package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/database"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// EntityTypeRepository persists the workspace's entity types: the virtual
// schema the catalog and identity registry load at startup and after any
// type registration.
type EntityTypeRepository interface {
	Create(ctx context.Context, et *models.EntityType) error
	GetByName(ctx context.Context, name string) (*models.EntityType, error)
	List(ctx context.Context) ([]models.EntityType, error)
}

type entityTypeRepository struct{}

func NewEntityTypeRepository() EntityTypeRepository {
	return &entityTypeRepository{}
}

func (r *entityTypeRepository) Create(ctx context.Context, et *models.EntityType) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	now := time.Now()
	et.CreatedAt = now
	et.UpdatedAt = now

	fields, err := json.Marshal(et.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
		INSERT INTO engine_entity_types (
			id, workspace_id, name, type_prefix, table_name, fields,
			is_junction, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = scope.Conn.Exec(ctx, query,
		et.ID, et.WorkspaceID, et.Name, et.TypePrefix, et.Table, fields,
		et.IsJunction, et.CreatedAt, et.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entity type: %w", err)
	}
	return nil
}

func (r *entityTypeRepository) GetByName(ctx context.Context, name string) (*models.EntityType, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	query := `
		SELECT id, workspace_id, name, type_prefix, table_name, fields,
		       is_junction, created_at, updated_at
		FROM engine_entity_types
		WHERE name = $1`

	et, err := scanEntityType(scope.Conn.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity type: %w", err)
	}
	return et, nil
}

func (r *entityTypeRepository) List(ctx context.Context) ([]models.EntityType, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	query := `
		SELECT id, workspace_id, name, type_prefix, table_name, fields,
		       is_junction, created_at, updated_at
		FROM engine_entity_types
		ORDER BY name`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity types: %w", err)
	}
	defer rows.Close()

	var out []models.EntityType
	for rows.Next() {
		et, err := scanEntityType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *et)
	}
	return out, rows.Err()
}

// LoadAllEntityTypes reads every workspace's entity types on the shared
// pool, for building the process-wide catalog and identity registry at
// startup. The schema metadata table carries no row data and is not behind
// RLS.
func LoadAllEntityTypes(ctx context.Context, db *database.DB) ([]models.EntityType, error) {
	query := `
		SELECT id, workspace_id, name, type_prefix, table_name, fields,
		       is_junction, created_at, updated_at
		FROM engine_entity_types
		ORDER BY name`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity types: %w", err)
	}
	defer rows.Close()

	var out []models.EntityType
	for rows.Next() {
		et, err := scanEntityType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *et)
	}
	return out, rows.Err()
}

func scanEntityType(row pgx.Row) (*models.EntityType, error) {
	var et models.EntityType
	var fields []byte

	err := row.Scan(
		&et.ID, &et.WorkspaceID, &et.Name, &et.TypePrefix, &et.Table, &fields,
		&et.IsJunction, &et.CreatedAt, &et.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &et.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}
	return &et, nil
}
