// Package interrogator is the report engine. It compiles requests into plans
// with the query package, runs them against a persistence.DataStore and
// reshapes results into pivot grids. Problems that only degrade a report are
// returned as diagnostics on the result; only a disallowed root entity or a
// malformed annotation is returned as an error.
package interrogator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/asaidimu/go-interrogator/core/persistence"
	"github.com/asaidimu/go-interrogator/core/policy"
	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/asaidimu/go-interrogator/core/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures an Interrogator. They are the plan builder's options.
type Options = query.Options

// DefaultOptions returns the default engine options.
func DefaultOptions() *Options {
	return query.DefaultOptions()
}

// Interrogator runs reports. All per-request state lives in the plan, so one
// Interrogator may serve concurrent requests.
type Interrogator struct {
	store   persistence.DataStore
	builder *query.Builder
	logger  *zap.Logger

	bus           *events.TypedEventBus[ReportEvent]
	subscriptions map[string]*SubscriptionInfo
	subMu         sync.RWMutex
}

// New creates an Interrogator over store.
func New(resolver schema.Resolver, accessPolicy *policy.AccessPolicy, store persistence.DataStore, logger *zap.Logger, options *Options) (*Interrogator, error) {
	if resolver == nil {
		return nil, errors.New("a schema resolver is required")
	}
	if accessPolicy == nil {
		return nil, errors.New("an access policy is required")
	}
	if store == nil {
		return nil, errors.New("a data store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultOptions()
	}
	planning := *options

	bus, err := events.NewTypedEventBus[ReportEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	return &Interrogator{
		store:         store,
		builder:       query.NewBuilder(resolver, accessPolicy, logger, &planning),
		logger:        logger,
		bus:           bus,
		subscriptions: make(map[string]*SubscriptionInfo),
	}, nil
}

// QueryResult is the outcome of a report.
type QueryResult struct {
	RequestID      string             `json:"requestId"`
	Rows           []schema.Document  `json:"rows"`
	Count          int                `json:"count"`
	Columns        []string           `json:"columns"`
	Diagnostics    []query.Diagnostic `json:"diagnostics"`
	EntityMetadata map[string]any     `json:"entityMetadata,omitempty"`
}

// Values returns row i as a slice ordered like Columns.
func (r *QueryResult) Values(i int) []any {
	row := r.Rows[i]
	out := make([]any, len(r.Columns))
	for j, c := range r.Columns {
		out[j] = row[c]
	}
	return out
}

// GeneratePlan compiles req without executing it.
func (i *Interrogator) GeneratePlan(req *query.Request) (*query.Plan, []query.Diagnostic, error) {
	plan, err := i.builder.Build(req)
	if err != nil {
		return nil, nil, err
	}
	return plan, plan.Diagnostics, nil
}

// Interrogate builds and executes req. The returned error is non-nil only
// when the plan could not be built; store failures are reported as
// diagnostics on the result.
func (i *Interrogator) Interrogate(ctx context.Context, req *query.Request) (*QueryResult, error) {
	start := time.Now()
	requestID := uuid.New().String()

	plan, err := i.builder.Build(req)
	if err != nil {
		i.logger.Warn("Report rejected", zap.String("requestId", requestID), zap.Error(err))
		i.emit(createEvent(ReportFailed, requestID, rootOf(req), 0, nil, err, start))
		return nil, err
	}

	result := &QueryResult{
		RequestID:      requestID,
		Rows:           []schema.Document{},
		Columns:        plan.OutputColumns(),
		Diagnostics:    append([]query.Diagnostic{}, plan.Diagnostics...),
		EntityMetadata: plan.Metadata(),
	}

	if plan.Limit != nil && *plan.Limit <= 0 {
		result.Diagnostics = append(result.Diagnostics, query.InvalidLimit())
		i.emit(createEvent(ReportExecuted, requestID, plan.Root, 0, result.Diagnostics, nil, start))
		return result, nil
	}

	rows, count, err := i.execute(ctx, plan)
	if err != nil {
		result.Diagnostics = append(result.Diagnostics, i.storeFailure(requestID, plan, err))
		i.emit(createEvent(ReportFailed, requestID, plan.Root, 0, result.Diagnostics, err, start))
		return result, nil
	}

	result.Rows = project(rows, result.Columns)
	result.Count = count
	if count == 0 {
		result.Diagnostics = append(result.Diagnostics, query.NoRows())
	}

	i.logger.Debug("Report executed",
		zap.String("requestId", requestID),
		zap.String("entity", plan.Root),
		zap.Int("rows", count),
		zap.Duration("duration", time.Since(start)),
	)
	i.emit(createEvent(ReportExecuted, requestID, plan.Root, count, result.Diagnostics, nil, start))
	return result, nil
}

// Explanation is the statement a store would run for a plan.
type Explanation struct {
	Plan      *query.Plan `json:"plan"`
	Statement string      `json:"statement"`
	Params    []any       `json:"params"`
}

// explainer is implemented by query sets that can print their statement.
type explainer interface {
	SQL() (string, []any, error)
}

// Explain builds req and returns the statement the store would execute,
// without executing it.
func (i *Interrogator) Explain(req *query.Request) (*Explanation, error) {
	plan, err := i.builder.Build(req)
	if err != nil {
		return nil, err
	}
	qs, ok := i.querySet(plan).(explainer)
	if !ok {
		return nil, errors.New("the data store cannot explain queries")
	}
	stmt, params, err := qs.SQL()
	if err != nil {
		return nil, err
	}
	return &Explanation{Plan: plan, Statement: stmt, Params: params}, nil
}

// querySet applies plan to the store in a fixed order: project, filter,
// one filter call per "all" value, exclude, annotate, annotation filters,
// order, slice.
func (i *Interrogator) querySet(plan *query.Plan) persistence.QuerySet {
	qs := i.store.All(plan.Entity).
		Project(plan.Projections...).
		Filter(plan.Filters...)
	for _, all := range plan.AllFilters {
		for _, spec := range all.Specs() {
			qs = qs.Filter(spec)
		}
	}
	if len(plan.Excludes) > 0 {
		qs = qs.Exclude(plan.Excludes...)
	}
	if len(plan.Annotations) > 0 {
		qs = qs.Annotate(plan.Annotations...)
	}
	if len(plan.AnnotationFilters) > 0 {
		qs = qs.Filter(plan.AnnotationFilters...)
	}
	return qs.OrderBy(plan.Ordering...).Slice(plan.Offset, plan.Limit)
}

func (i *Interrogator) execute(ctx context.Context, plan *query.Plan) ([]schema.Document, int, error) {
	qs := i.querySet(plan)

	rows, err := qs.Materialize(ctx)
	if err != nil {
		return nil, 0, err
	}
	count, err := qs.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

// storeFailure maps a store error to a diagnostic.
func (i *Interrogator) storeFailure(requestID string, plan *query.Plan, err error) query.Diagnostic {
	i.logger.Warn("Report execution failed",
		zap.String("requestId", requestID),
		zap.String("entity", plan.Root),
		zap.Error(err),
	)
	var unknown *persistence.UnknownFieldError
	if errors.As(err, &unknown) {
		return query.UnknownField(unknown.Name)
	}
	return query.ExecutionFailed(err)
}

// project keeps only the requested columns of every row. Without requested
// columns rows are returned whole.
func project(rows []schema.Document, columns []string) []schema.Document {
	if len(columns) == 0 {
		return rows
	}
	out := make([]schema.Document, len(rows))
	for n, row := range rows {
		doc := make(schema.Document, len(columns))
		for _, c := range columns {
			doc[c] = row[c]
		}
		out[n] = doc
	}
	return out
}

func rootOf(req *query.Request) string {
	if req == nil {
		return ""
	}
	return req.Root
}
