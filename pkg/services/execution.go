package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/config"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// QueryRunner executes one prepared statement and collects the rows. The
// postgres implementation lives in repositories; tests substitute fakes.
type QueryRunner interface {
	Run(ctx context.Context, sql string, args []any) ([]map[string]any, error)
}

// ResultSet is what execute returns to rendering layers.
type ResultSet struct {
	Rows []map[string]any `json:"rows"`
	// ColumnRegistryVersion pins the registry the rows conform to.
	ColumnRegistryVersion int  `json:"column_registry_version"`
	Truncated             bool `json:"truncated"`
}

// ExecuteRequest carries the per-request execution inputs. Extra filters
// AND-compose with the data source's defaults and can never remove them.
type ExecuteRequest struct {
	ExtraFilters []models.Filter  `json:"extra_filters,omitempty"`
	SortOverride []models.SortKey `json:"sort_override,omitempty"`
	ParamValues  map[string]any   `json:"param_values,omitempty"`
	Offset       int              `json:"offset,omitempty"`
}

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dsengine_executions_total",
		Help: "Underlying query executions by refresh policy.",
	}, []string{"policy"})
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsengine_cache_hits_total",
		Help: "Executions served from the result cache.",
	})
	coalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsengine_coalesced_executions_total",
		Help: "Executions coalesced into an in-flight identical execution.",
	})
	executionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dsengine_execution_duration_seconds",
		Help:    "Wall time of underlying query executions.",
		Buckets: prometheus.DefBuckets,
	})
)

type cachedResult struct {
	result *ResultSet
	// expiresAt is zero for the manual policy: the entry lives until an
	// explicit invalidation.
	expiresAt time.Time
}

// Executor runs validated plans under their refresh policy. Concurrent
// identical requests coalesce into one underlying execution; the cache is
// keyed by data source, tenant, and the resolved request signature, so
// different parameter combinations never share an entry.
type Executor struct {
	runner QueryRunner
	cfg    *config.EngineConfig
	logger *zap.Logger

	cache *lru.LRU[string, cachedResult]
	group singleflight.Group

	mu       sync.Mutex
	keysByDS map[uuid.UUID][]string
}

func NewExecutor(runner QueryRunner, cfg *config.EngineConfig, logger *zap.Logger) *Executor {
	return &Executor{
		runner:   runner,
		cfg:      cfg,
		logger:   logger,
		cache:    lru.NewLRU[string, cachedResult](cfg.CacheSize, nil, 0),
		keysByDS: make(map[uuid.UUID][]string),
	}
}

// Execute runs one request against a translated plan. Live never caches;
// cached stores by key until the TTL lapses; manual serves the last stored
// result until Invalidate. Timeouts abort with no partial rows.
func (e *Executor) Execute(
	ctx context.Context,
	ds *models.DataSource,
	plan *models.QueryPlan,
	req ExecuteRequest,
) (*ResultSet, error) {
	if ds.Status == models.StatusDeleted {
		return nil, apperrors.ErrDataSourceDeleted
	}

	key := cacheKey(ds, req)
	policy := ds.RefreshPolicy.Mode

	if policy != models.RefreshLive {
		if entry, ok := e.cache.Get(key); ok {
			if entry.expiresAt.IsZero() || time.Now().Before(entry.expiresAt) {
				cacheHitsTotal.Inc()
				return entry.result, nil
			}
			e.cache.Remove(key)
		}
	}

	ch := e.group.DoChan(key, func() (any, error) {
		res, err := e.run(ctx, ds, plan, req)
		if err != nil {
			return nil, err
		}
		switch policy {
		case models.RefreshCached:
			e.storeWithTTL(ds.ID, key, res, ds.RefreshPolicy.TTL())
		case models.RefreshManual:
			e.store(ds.ID, key, res)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		// Leaving lets the leader finish and publish to remaining waiters;
		// nobody blocks on this caller.
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			coalescedTotal.Inc()
		}
		return r.Val.(*ResultSet), nil
	}
}

func (e *Executor) run(ctx context.Context, ds *models.DataSource, plan *models.QueryPlan, req ExecuteRequest) (*ResultSet, error) {
	sortKeys := ds.DefaultSort
	if len(req.SortOverride) > 0 {
		sortKeys = req.SortOverride
	}
	rowCap := e.cfg.RowCap()

	stmt, args, err := buildExecutable(executeSpec{
		plan:           plan,
		defaultFilters: ds.DefaultFilters,
		extraFilters:   req.ExtraFilters,
		sortKeys:       sortKeys,
		paramValues:    req.ParamValues,
		rowCap:         rowCap,
		offset:         req.Offset,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout())
	defer cancel()

	start := time.Now()
	rows, err := e.runner.Run(runCtx, stmt, args)
	executionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.ErrExecutionTimeout
		}
		return nil, err
	}
	executionsTotal.WithLabelValues(string(ds.RefreshPolicy.Mode)).Inc()

	truncated := false
	if len(rows) > rowCap {
		rows = rows[:rowCap]
		truncated = true
	}

	return &ResultSet{
		Rows:                  rows,
		ColumnRegistryVersion: ds.SchemaVersion,
		Truncated:             truncated,
	}, nil
}

// dryRun executes a plan with LIMIT 0, confirming the text is executable
// without touching the cache or returning rows.
func (e *Executor) dryRun(ctx context.Context, ds *models.DataSource, plan *models.QueryPlan, req ExecuteRequest) (*ResultSet, error) {
	stmt, args, err := buildExecutable(executeSpec{
		plan:        plan,
		paramValues: req.ParamValues,
		rowCap:      -1,
	})
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout())
	defer cancel()
	if _, err := e.runner.Run(runCtx, stmt, args); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.ErrExecutionTimeout
		}
		return nil, err
	}
	return &ResultSet{ColumnRegistryVersion: ds.SchemaVersion}, nil
}

func (e *Executor) store(dsID uuid.UUID, key string, res *ResultSet) {
	entry := cachedResult{result: res}
	e.mu.Lock()
	e.keysByDS[dsID] = append(e.keysByDS[dsID], key)
	e.mu.Unlock()
	e.cache.Add(key, entry)
}

// storeWithTTL is used by the cached policy; stamps a per-entry deadline.
func (e *Executor) storeWithTTL(dsID uuid.UUID, key string, res *ResultSet, ttl time.Duration) {
	entry := cachedResult{result: res, expiresAt: time.Now().Add(ttl)}
	e.mu.Lock()
	e.keysByDS[dsID] = append(e.keysByDS[dsID], key)
	e.mu.Unlock()
	e.cache.Add(key, entry)
}

// Invalidate drops every cached result of a data source. Used by the manual
// refresh policy and whenever a definition edit lands.
func (e *Executor) Invalidate(dsID uuid.UUID) {
	e.mu.Lock()
	keys := e.keysByDS[dsID]
	delete(e.keysByDS, dsID)
	e.mu.Unlock()
	for _, k := range keys {
		e.cache.Remove(k)
		e.group.Forget(k)
	}
}

// cacheKey hashes the identity of one execution: data source, tenant, and
// the full resolved request. Different parameter values never collide.
func cacheKey(ds *models.DataSource, req ExecuteRequest) string {
	h := sha256.New()
	h.Write(ds.ID[:])
	h.Write(ds.WorkspaceID[:])
	payload, _ := json.Marshal(req)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
