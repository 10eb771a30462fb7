package interrogator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asaidimu/go-interrogator/core/persistence"
	"github.com/asaidimu/go-interrogator/core/policy"
	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/asaidimu/go-interrogator/core/schema"
	"github.com/asaidimu/go-interrogator/internal/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records every call made on its query sets and answers
// Materialize calls from a queue.
type fakeStore struct {
	mu      sync.Mutex
	calls   []string
	results [][]schema.Document
	count   int
	err     error
}

func (s *fakeStore) record(call string, args ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call+"("+strings.Join(args, ",")+")")
}

func (s *fakeStore) All(entity *schema.Entity) persistence.QuerySet {
	s.record("All", entity.Ref())
	return &fakeQuerySet{store: s}
}

type fakeQuerySet struct {
	store *fakeStore
}

func filterPaths(specs []query.FilterSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Path
	}
	return out
}

func (q *fakeQuerySet) Project(projections ...query.Projection) persistence.QuerySet {
	var args []string
	for _, p := range projections {
		args = append(args, p.Alias)
	}
	q.store.record("Project", args...)
	return q
}

func (q *fakeQuerySet) Filter(predicates ...query.FilterSpec) persistence.QuerySet {
	q.store.record("Filter", filterPaths(predicates)...)
	return q
}

func (q *fakeQuerySet) Exclude(predicates ...query.FilterSpec) persistence.QuerySet {
	q.store.record("Exclude", filterPaths(predicates)...)
	return q
}

func (q *fakeQuerySet) Annotate(annotations ...query.Annotation) persistence.QuerySet {
	var args []string
	for _, a := range annotations {
		args = append(args, a.Alias)
	}
	q.store.record("Annotate", args...)
	return q
}

func (q *fakeQuerySet) OrderBy(keys ...query.OrderKey) persistence.QuerySet {
	var args []string
	for _, k := range keys {
		if k.Descending {
			args = append(args, "-"+k.Path)
		} else {
			args = append(args, k.Path)
		}
	}
	q.store.record("OrderBy", args...)
	return q
}

func (q *fakeQuerySet) Distinct() persistence.QuerySet {
	q.store.record("Distinct")
	return q
}

func (q *fakeQuerySet) Slice(offset int, limit *int) persistence.QuerySet {
	l := "nil"
	if limit != nil {
		l = fmt.Sprint(*limit)
	}
	q.store.record("Slice", fmt.Sprint(offset), l)
	return q
}

func (q *fakeQuerySet) Count(ctx context.Context) (int, error) {
	q.store.record("Count")
	return q.store.count, q.store.err
}

func (q *fakeQuerySet) Materialize(ctx context.Context) ([]schema.Document, error) {
	q.store.record("Materialize")
	if q.store.err != nil {
		return nil, q.store.err
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	if len(q.store.results) == 0 {
		return []schema.Document{}, nil
	}
	rows := q.store.results[0]
	q.store.results = q.store.results[1:]
	return rows, nil
}

func newInterrogator(t *testing.T, store persistence.DataStore, access *policy.AccessPolicy) *Interrogator {
	t.Helper()
	registry, err := fixtures.ShopRegistry()
	require.NoError(t, err)
	if access == nil {
		access = policy.AllowAll(nil, []policy.Exclusion{{Namespace: "auth", Name: "User"}})
	}
	i, err := New(registry, access, store, nil, nil)
	require.NoError(t, err)
	return i
}

func diagnosticCodes(diagnostics []query.Diagnostic) []query.DiagnosticCode {
	codes := make([]query.DiagnosticCode, len(diagnostics))
	for i, d := range diagnostics {
		codes[i] = d.Code
	}
	return codes
}

func TestNewRequiresDependencies(t *testing.T) {
	registry, err := fixtures.ShopRegistry()
	require.NoError(t, err)
	access := policy.AllowAll(nil, nil)

	_, err = New(nil, access, &fakeStore{}, nil, nil)
	assert.Error(t, err)
	_, err = New(registry, nil, &fakeStore{}, nil, nil)
	assert.Error(t, err)
	_, err = New(registry, access, nil, nil, nil)
	assert.Error(t, err)
}

func TestInterrogateCallOrder(t *testing.T) {
	store := &fakeStore{
		results: [][]schema.Document{{{"id": int64(3), "name": "Rick Sanchez", "profit": 26.0}}},
		count:   1,
	}
	i := newInterrogator(t, store, nil)

	result, err := i.Interrogate(context.Background(), query.NewRequest("shop:SalesPerson").
		Columns("name", "profit:=sum(sale.sale_price - sale.product.cost_price)").
		Filter("sale.state=NSW", "name!=Jody Wiffle", "sale.state.all=NSW,VIC", "profit>100").
		OrderBy("name").
		Limit(10).
		Build())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"All(shop:SalesPerson)",
		"Project(name)",
		"Filter(sale__state)",
		"Filter(sale__state)",
		"Filter(sale__state)",
		"Exclude(name)",
		"Annotate(profit)",
		"Filter(profit)",
		"OrderBy(name)",
		"Slice(0,10)",
		"Materialize()",
		"Count()",
	}, store.calls)

	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, []string{"name", "profit"}, result.Columns)
	assert.Equal(t, []schema.Document{{"name": "Rick Sanchez", "profit": 26.0}}, result.Rows)
	assert.Equal(t, []any{"Rick Sanchez", 26.0}, result.Values(0))
	assert.Equal(t, 1, result.Count)
	assert.Empty(t, result.Diagnostics)
}

func TestInterrogateDiagnostics(t *testing.T) {
	tests := []struct {
		name     string
		store    *fakeStore
		request  *query.Request
		codes    []query.DiagnosticCode
		subject  string
		executed bool
	}{
		{
			name:    "limit below one is not executed",
			store:   &fakeStore{},
			request: query.NewRequest("shop:SalesPerson").Columns("name").Limit(0).Build(),
			codes:   []query.DiagnosticCode{query.DiagnosticInvalidLimit},
		},
		{
			name:     "unknown field",
			store:    &fakeStore{err: fmt.Errorf("compile: %w", &persistence.UnknownFieldError{Name: "nothing", Entity: "shop:SalesPerson"})},
			request:  query.NewRequest("shop:SalesPerson").Columns("nothing").Build(),
			codes:    []query.DiagnosticCode{query.DiagnosticUnknownField},
			subject:  "nothing",
			executed: true,
		},
		{
			name:     "store failure",
			store:    &fakeStore{err: errors.New("disk on fire")},
			request:  query.NewRequest("shop:SalesPerson").Columns("name").Build(),
			codes:    []query.DiagnosticCode{query.DiagnosticExecutionFailed},
			executed: true,
		},
		{
			name:     "no rows",
			store:    &fakeStore{},
			request:  query.NewRequest("shop:SalesPerson").Columns("name", "user.username").Build(),
			codes:    []query.DiagnosticCode{query.DiagnosticForbiddenJoin, query.DiagnosticNoRows},
			subject:  "user__username",
			executed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := newInterrogator(t, tt.store, nil)

			result, err := i.Interrogate(context.Background(), tt.request)
			require.NoError(t, err)
			require.NotNil(t, result)

			assert.Equal(t, tt.codes, diagnosticCodes(result.Diagnostics))
			if tt.subject != "" {
				assert.Equal(t, tt.subject, result.Diagnostics[0].Subject)
			}
			assert.Empty(t, result.Rows)
			assert.Equal(t, tt.executed, len(tt.store.calls) > 0)
		})
	}
}

func TestInterrogateErrors(t *testing.T) {
	store := &fakeStore{}
	i := newInterrogator(t, store, nil)

	_, err := i.Interrogate(context.Background(), query.NewRequest("auth:User").Columns("username").Build())
	assert.ErrorIs(t, err, query.ErrModelNotAllowed)

	_, err = i.Interrogate(context.Background(), query.NewRequest("shop:SalesPerson").Columns("sumif(sale.sale_price)").Build())
	assert.ErrorIs(t, err, query.ErrInvalidAnnotation)

	assert.Empty(t, store.calls)
}

func TestGeneratePlan(t *testing.T) {
	store := &fakeStore{}
	i := newInterrogator(t, store, nil)

	plan, diagnostics, err := i.GeneratePlan(query.NewRequest("shop:Sale").
		Columns("state", "seller.user.username").
		Build())
	require.NoError(t, err)
	assert.Equal(t, []string{"state"}, plan.OutputColumns())
	assert.Equal(t, []query.DiagnosticCode{query.DiagnosticForbiddenJoin}, diagnosticCodes(diagnostics))
	assert.Empty(t, store.calls)

	_, _, err = i.GeneratePlan(nil)
	assert.Error(t, err)
}

func TestOptionsReachPlanner(t *testing.T) {
	registry, err := fixtures.ShopRegistry()
	require.NoError(t, err)
	access := policy.AllowAll(nil, nil)
	req := query.NewRequest("shop:SalesPerson").Columns("sales:=count(sale)").Build()

	tests := []struct {
		name     string
		options  *Options
		distinct bool
	}{
		{"default", nil, true},
		{"not distinct", &Options{DistinctAggregates: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, err := New(registry, access, &fakeStore{}, nil, tt.options)
			require.NoError(t, err)
			if tt.options != nil {
				tt.options.DistinctAggregates = !tt.distinct
			}

			plan, _, err := i.GeneratePlan(req)
			require.NoError(t, err)
			sales, ok := plan.Annotation("sales")
			require.True(t, ok)
			require.IsType(t, &query.AggregateCall{}, sales)
			assert.Equal(t, tt.distinct, sales.(*query.AggregateCall).Distinct)
		})
	}
}

func TestPivotGrid(t *testing.T) {
	store := &fakeStore{
		results: [][]schema.Document{
			{{"sale__state": "NSW"}, {"sale__state": "VIC"}},
			{
				{"name": "Beanie", "sale__state": "NSW", "cell": int64(2), "total": 30.0},
				{"name": "Coat", "sale__state": "VIC", "cell": int64(1), "total": 890.0},
				{"name": "Coat", "sale__state": "NT", "cell": int64(1), "total": 900.0},
			},
		},
		count: 3,
	}
	i := newInterrogator(t, store, nil)

	result, err := i.Pivot(context.Background(), &query.Request{
		Root:        "shop:Product",
		Columns:     []string{"sale.state", "name"},
		Aggregators: []string{"total:=sum(sale.sale_price)"},
	})
	require.NoError(t, err)

	assert.Equal(t, "sale__state", result.X)
	assert.Equal(t, "name", result.Y)
	assert.Equal(t, []any{"NSW", "VIC", "NT"}, result.ColumnHeads)
	require.Len(t, result.Rows, 2)
	for _, row := range result.Rows {
		assert.Len(t, row.Cells, 3, "row %v", row.Head)
	}

	cell, ok := result.Cell("Beanie", "NSW")
	require.True(t, ok)
	assert.Equal(t, int64(2), cell.Count)
	assert.Equal(t, map[string]any{"total": 30.0}, cell.Aggregates)

	cell, ok = result.Cell("Beanie", "NT")
	require.True(t, ok)
	assert.Equal(t, PivotCell{Column: "NT"}, cell)

	cell, ok = result.Cell("Coat", "NSW")
	require.True(t, ok)
	assert.Zero(t, cell.Count)

	_, ok = result.Cell("Hat", "NSW")
	assert.False(t, ok)

	assert.Contains(t, store.calls, "Distinct()")
	assert.Contains(t, store.calls, "OrderBy(name,sale__state)")
}

func TestPivotNeedsTwoColumns(t *testing.T) {
	i := newInterrogator(t, &fakeStore{}, nil)

	_, err := i.Pivot(context.Background(), &query.Request{
		Root:    "shop:SalesPerson",
		Columns: []string{"name", "user.username"},
	})
	assert.Error(t, err)
}

func TestEvents(t *testing.T) {
	store := &fakeStore{results: [][]schema.Document{{{"name": "Morty Smith"}}}, count: 1}
	i := newInterrogator(t, store, nil)

	var mu sync.Mutex
	var received []ReportEvent
	record := func(ctx context.Context, event ReportEvent) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
		return nil
	}
	executed := i.RegisterSubscription(RegisterSubscriptionOptions{Event: ReportExecuted, Label: schema.StringPtr("executed"), Callback: record})
	i.RegisterSubscription(RegisterSubscriptionOptions{Event: ReportFailed, Callback: record})
	assert.Len(t, i.Subscriptions(), 2)

	result, err := i.Interrogate(context.Background(), query.NewRequest("shop:SalesPerson").Columns("name").Build())
	require.NoError(t, err)
	_, err = i.Interrogate(context.Background(), query.NewRequest("auth:User").Build())
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	byType := make(map[ReportEventType]ReportEvent)
	for _, e := range received {
		byType[e.Type] = e
	}
	mu.Unlock()

	ok := byType[ReportExecuted]
	assert.Equal(t, result.RequestID, ok.RequestID)
	assert.Equal(t, "shop:SalesPerson", ok.Entity)
	assert.Equal(t, 1, ok.RowCount)
	assert.Nil(t, ok.Error)

	failed := byType[ReportFailed]
	assert.Equal(t, "auth:User", failed.Entity)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "auth:User")

	i.UnregisterSubscription(executed)
	assert.Len(t, i.Subscriptions(), 1)
}
