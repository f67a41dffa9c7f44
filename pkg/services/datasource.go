package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// DataSourceStore is the persistence surface the service drives. The
// postgres implementation lives in repositories.
type DataSourceStore interface {
	Create(ctx context.Context, ds *models.DataSource) error
	Update(ctx context.Context, ds *models.DataSource) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DataSource, error)
	List(ctx context.Context) ([]*models.DataSource, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// CreateDataSourceInput is the authoring payload for a new data source.
type CreateDataSourceInput struct {
	Name             string                  `json:"name"`
	QueryMode        models.QueryMode        `json:"query_mode"`
	StructuredConfig *models.StructuredQuery `json:"structured_config,omitempty"`
	QueryText        string                  `json:"query_text,omitempty"`
	Parameters       []models.QueryParameter `json:"parameters,omitempty"`
	DefaultFilters   []models.Filter         `json:"default_filters,omitempty"`
	DefaultSort      []models.SortKey        `json:"default_sort,omitempty"`
	RefreshPolicy    models.RefreshPolicy    `json:"refresh_policy"`
}

// EditDataSourceInput carries a definition edit. Nil slices leave the
// stored value untouched; overrides replace wholesale.
type EditDataSourceInput struct {
	Name             *string                  `json:"name,omitempty"`
	StructuredConfig *models.StructuredQuery  `json:"structured_config,omitempty"`
	QueryText        *string                  `json:"query_text,omitempty"`
	Parameters       []models.QueryParameter  `json:"parameters,omitempty"`
	DefaultFilters   []models.Filter          `json:"default_filters,omitempty"`
	DefaultSort      []models.SortKey         `json:"default_sort,omitempty"`
	RefreshPolicy    *models.RefreshPolicy    `json:"refresh_policy,omitempty"`
	ColumnOverrides  []models.ColumnOverride  `json:"column_overrides,omitempty"`
	PreviewOverrides []models.PreviewOverride `json:"preview_overrides,omitempty"`
}

// DataSourceService is the engine's front door: authoring, execution,
// preview resolution, and edit trace-back for data sources.
type DataSourceService interface {
	Create(ctx context.Context, workspaceID uuid.UUID, input CreateDataSourceInput) (*models.DataSource, error)
	Edit(ctx context.Context, id uuid.UUID, input EditDataSourceInput) (*models.DataSource, []models.ColumnChange, error)
	Get(ctx context.Context, id uuid.UUID) (*models.DataSource, error)
	List(ctx context.Context) ([]*models.DataSource, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Activate(ctx context.Context, id uuid.UUID) (*models.DataSource, error)

	Execute(ctx context.Context, id uuid.UUID, principal Principal, req ExecuteRequest) (*ResultSet, error)
	ResolvePreview(ctx context.Context, id uuid.UUID, row map[string]any, principal Principal) ([]PreviewRef, error)
	TraceBackEdit(ctx context.Context, id uuid.UUID, column string, row map[string]any, newValue any, principal Principal) (*models.MutationTarget, error)
	DryRun(ctx context.Context, queryText string, params []models.QueryParameter) ([]models.ColumnRegistryEntry, error)
	InvalidateCache(ctx context.Context, id uuid.UUID) error
}

type dataSourceService struct {
	store      DataSourceStore
	translator *Translator
	registry   *RegistryGenerator
	preview    *PreviewResolver
	executor   *Executor
	traceback  *TraceBackResolver
	notifier   *SchemaNotifier
	perms      PermissionChecker
	logger     *zap.Logger

	// editLocks serializes definition edits per data source. A second
	// concurrent edit is rejected, not queued; it retries against the first
	// edit's committed registry and version.
	editMu    sync.Mutex
	editLocks map[uuid.UUID]*sync.Mutex
}

func NewDataSourceService(
	store DataSourceStore,
	translator *Translator,
	registry *RegistryGenerator,
	preview *PreviewResolver,
	executor *Executor,
	traceback *TraceBackResolver,
	notifier *SchemaNotifier,
	perms PermissionChecker,
	logger *zap.Logger,
) DataSourceService {
	if perms == nil {
		perms = OpenPermissions{}
	}
	return &dataSourceService{
		store:      store,
		translator: translator,
		registry:   registry,
		preview:    preview,
		executor:   executor,
		traceback:  traceback,
		notifier:   notifier,
		perms:      perms,
		logger:     logger,
		editLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *dataSourceService) Create(ctx context.Context, workspaceID uuid.UUID, input CreateDataSourceInput) (*models.DataSource, error) {
	if input.Name == "" {
		return nil, apperrors.NewValidationError("name", "data source name is required")
	}

	ds := &models.DataSource{
		ID:               uuid.New(),
		WorkspaceID:      workspaceID,
		Name:             input.Name,
		QueryMode:        input.QueryMode,
		StructuredConfig: input.StructuredConfig,
		QueryText:        input.QueryText,
		Parameters:       input.Parameters,
		DefaultFilters:   input.DefaultFilters,
		DefaultSort:      input.DefaultSort,
		RefreshPolicy:    input.RefreshPolicy,
		SchemaVersion:    1,
		Status:           models.StatusDraft,
	}
	if ds.RefreshPolicy.Mode == "" {
		ds.RefreshPolicy.Mode = models.RefreshLive
	}

	plan, err := s.validate(ds)
	if err != nil {
		return nil, err
	}
	ds.Status = models.StatusValidated
	s.derive(ds, plan)

	if err := s.store.Create(ctx, ds); err != nil {
		return nil, err
	}
	s.logger.Info("data source created",
		zap.String("id", ds.ID.String()),
		zap.String("mode", string(ds.QueryMode)))
	return ds, nil
}

func (s *dataSourceService) Edit(ctx context.Context, id uuid.UUID, input EditDataSourceInput) (*models.DataSource, []models.ColumnChange, error) {
	lock := s.lockFor(id)
	if !lock.TryLock() {
		return nil, nil, apperrors.ErrConcurrentEdit
	}
	defer lock.Unlock()

	ds, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if ds.Status == models.StatusDeleted {
		return nil, nil, apperrors.ErrDataSourceDeleted
	}

	previous := ds.ColumnRegistry
	applyEdit(ds, input)

	plan, err := s.validate(ds)
	if err != nil {
		return nil, nil, err
	}
	ds.Status = models.StatusValidated
	s.derive(ds, plan)

	changes := DiffRegistries(previous, ds.ColumnRegistry)
	breaking := BreakingChanges(changes)
	if len(breaking) > 0 {
		ds.SchemaVersion++
	}

	if err := s.store.Update(ctx, ds); err != nil {
		return nil, nil, err
	}
	s.executor.Invalidate(ds.ID)

	// Advisory only. Subscribers react; the author's edit never blocks.
	s.notifier.NotifyBreaking(ctx, ds.ID, breaking)

	return ds, breaking, nil
}

func (s *dataSourceService) Get(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	return s.store.GetByID(ctx, id)
}

func (s *dataSourceService) List(ctx context.Context) ([]*models.DataSource, error) {
	return s.store.List(ctx)
}

func (s *dataSourceService) Activate(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	ds, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch ds.Status {
	case models.StatusValidated:
	case models.StatusDeleted:
		return nil, apperrors.ErrDataSourceDeleted
	default:
		return nil, apperrors.NewValidationError(string(ds.Status), "only a validated data source can be activated")
	}
	ds.Status = models.StatusActive
	if err := s.store.Update(ctx, ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *dataSourceService) Delete(ctx context.Context, id uuid.UUID) error {
	ds, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ds.Status == models.StatusDeleted {
		return nil
	}
	if err := s.store.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.executor.Invalidate(id)
	// Dependents get an orphaned-reference signal, never a silent repoint.
	s.notifier.NotifyOrphaned(ctx, id)
	return nil
}

func (s *dataSourceService) Execute(ctx context.Context, id uuid.UUID, principal Principal, req ExecuteRequest) (*ResultSet, error) {
	ds, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	plan, err := s.planFor(ds)
	if err != nil {
		return nil, err
	}
	return s.executor.Execute(ctx, ds, plan, req)
}

func (s *dataSourceService) ResolvePreview(ctx context.Context, id uuid.UUID, row map[string]any, principal Principal) ([]PreviewRef, error) {
	ds, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.preview.Resolve(ctx, ds.PreviewConfig, row, principal, s.perms), nil
}

func (s *dataSourceService) TraceBackEdit(ctx context.Context, id uuid.UUID, column string, row map[string]any, newValue any, principal Principal) (*models.MutationTarget, error) {
	ds, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ds.Status == models.StatusDeleted {
		return nil, apperrors.ErrDataSourceDeleted
	}
	target, err := s.traceback.Resolve(ctx, ds, column, row, newValue, principal, s.perms)
	if err != nil {
		return nil, err
	}
	if err := s.traceback.Apply(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

// DryRun validates free-form text and returns the registry it would
// produce, plus a zero-row execution to confirm the text is executable.
func (s *dataSourceService) DryRun(ctx context.Context, queryText string, params []models.QueryParameter) ([]models.ColumnRegistryEntry, error) {
	plan, err := s.translator.TranslateFreeText(queryText, params)
	if err != nil {
		return nil, err
	}
	entries, _ := s.registry.Generate(plan, nil)

	probe := &models.DataSource{
		ID:            uuid.New(),
		QueryMode:     models.QueryModeFreeText,
		RefreshPolicy: models.RefreshPolicy{Mode: models.RefreshLive},
	}
	zeroReq := ExecuteRequest{ParamValues: dryRunValues(params)}
	if _, err := s.executor.dryRun(ctx, probe, plan, zeroReq); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *dataSourceService) InvalidateCache(ctx context.Context, id uuid.UUID) error {
	ds, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	s.executor.Invalidate(ds.ID)
	return nil
}

// validate translates the definition and keeps the rendered text current
// for structured sources, so authors always see the free-form equivalent.
func (s *dataSourceService) validate(ds *models.DataSource) (*models.QueryPlan, error) {
	plan, err := s.planFor(ds)
	if err != nil {
		return nil, err
	}
	if ds.QueryMode == models.QueryModeStructured {
		ds.QueryText = plan.SQL
	}
	return plan, nil
}

func (s *dataSourceService) planFor(ds *models.DataSource) (*models.QueryPlan, error) {
	switch ds.QueryMode {
	case models.QueryModeStructured:
		return s.translator.TranslateStructured(ds.StructuredConfig)
	case models.QueryModeFreeText:
		return s.translator.TranslateFreeText(ds.QueryText, ds.Parameters)
	default:
		return nil, apperrors.NewValidationError(string(ds.QueryMode), "unknown query mode")
	}
}

// derive regenerates the registry and preview configuration from a plan,
// re-merging the author's stored overrides and updating their stale flags.
func (s *dataSourceService) derive(ds *models.DataSource, plan *models.QueryPlan) {
	ds.ColumnRegistry, ds.ColumnOverrides = s.registry.Generate(plan, ds.ColumnOverrides)
	ds.PreviewConfig, ds.PreviewOverrides = s.preview.Build(plan, ds.ColumnRegistry, ds.PreviewOverrides)
	ds.UpdatedAt = time.Now()
}

func (s *dataSourceService) lockFor(id uuid.UUID) *sync.Mutex {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	lock, ok := s.editLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.editLocks[id] = lock
	}
	return lock
}

func applyEdit(ds *models.DataSource, input EditDataSourceInput) {
	if input.Name != nil {
		ds.Name = *input.Name
	}
	if input.StructuredConfig != nil {
		ds.StructuredConfig = input.StructuredConfig
		ds.QueryMode = models.QueryModeStructured
	}
	if input.QueryText != nil {
		ds.QueryText = *input.QueryText
		ds.QueryMode = models.QueryModeFreeText
		ds.StructuredConfig = nil
	}
	if input.Parameters != nil {
		ds.Parameters = input.Parameters
	}
	if input.DefaultFilters != nil {
		ds.DefaultFilters = input.DefaultFilters
	}
	if input.DefaultSort != nil {
		ds.DefaultSort = input.DefaultSort
	}
	if input.RefreshPolicy != nil {
		ds.RefreshPolicy = *input.RefreshPolicy
	}
	if input.ColumnOverrides != nil {
		ds.ColumnOverrides = input.ColumnOverrides
	}
	if input.PreviewOverrides != nil {
		ds.PreviewOverrides = input.PreviewOverrides
	}
}

// dryRunValues fabricates neutral values for required parameters so a dry
// run can bind them. The probe runs with LIMIT 0; values never reach a row.
func dryRunValues(params []models.QueryParameter) map[string]any {
	out := make(map[string]any, len(params))
	for _, p := range params {
		if p.Default != nil {
			out[p.Name] = p.Default
			continue
		}
		switch p.Type {
		case models.FieldTypeInteger, models.FieldTypeDecimal:
			out[p.Name] = 0
		case models.FieldTypeBoolean:
			out[p.Name] = false
		default:
			out[p.Name] = ""
		}
	}
	return out
}
