package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
	"github.com/dbower44022/CRMExtender-sub005/pkg/services"
)

// mockDataSourceService is a configurable mock for all handler tests.
type mockDataSourceService struct {
	dataSource  *models.DataSource
	dataSources []*models.DataSource
	breaking    []models.ColumnChange
	result      *services.ResultSet
	refs        []services.PreviewRef
	target      *models.MutationTarget
	columns     []models.ColumnRegistryEntry
	err         error

	lastExecuteReq services.ExecuteRequest
	invalidated    []uuid.UUID
	deleted        []uuid.UUID
}

func (m *mockDataSourceService) Create(ctx context.Context, workspaceID uuid.UUID, input services.CreateDataSourceInput) (*models.DataSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.dataSource != nil {
		return m.dataSource, nil
	}
	return &models.DataSource{ID: uuid.New(), WorkspaceID: workspaceID, Name: input.Name}, nil
}

func (m *mockDataSourceService) Edit(ctx context.Context, id uuid.UUID, input services.EditDataSourceInput) (*models.DataSource, []models.ColumnChange, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.dataSource, m.breaking, nil
}

func (m *mockDataSourceService) Get(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.dataSource, nil
}

func (m *mockDataSourceService) List(ctx context.Context) ([]*models.DataSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.dataSources, nil
}

func (m *mockDataSourceService) Delete(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockDataSourceService) Activate(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.dataSource, nil
}

func (m *mockDataSourceService) Execute(ctx context.Context, id uuid.UUID, principal services.Principal, req services.ExecuteRequest) (*services.ResultSet, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lastExecuteReq = req
	if m.result != nil {
		return m.result, nil
	}
	return &services.ResultSet{Rows: []map[string]any{}}, nil
}

func (m *mockDataSourceService) ResolvePreview(ctx context.Context, id uuid.UUID, row map[string]any, principal services.Principal) ([]services.PreviewRef, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.refs, nil
}

func (m *mockDataSourceService) TraceBackEdit(ctx context.Context, id uuid.UUID, column string, row map[string]any, newValue any, principal services.Principal) (*models.MutationTarget, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.target, nil
}

func (m *mockDataSourceService) DryRun(ctx context.Context, queryText string, params []models.QueryParameter) ([]models.ColumnRegistryEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.columns, nil
}

func (m *mockDataSourceService) InvalidateCache(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.invalidated = append(m.invalidated, id)
	return nil
}
