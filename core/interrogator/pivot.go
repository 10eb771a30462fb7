package interrogator

import (
	"context"
	"fmt"
	"time"

	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/asaidimu/go-interrogator/core/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PivotCell is one grid cell: the number of rows that fell into it and the
// value of every requested aggregator.
type PivotCell struct {
	Column     any            `json:"column"`
	Count      int64          `json:"count"`
	Aggregates map[string]any `json:"aggs,omitempty"`
}

// PivotRow holds the cells for one Y value, aligned with ColumnHeads.
type PivotRow struct {
	Head  any         `json:"head"`
	Cells []PivotCell `json:"cells"`
}

// PivotResult is a dense grid: every row has a cell for every column head.
type PivotResult struct {
	RequestID      string             `json:"requestId"`
	X              string             `json:"x"`
	Y              string             `json:"y"`
	ColumnHeads    []any              `json:"columnHeads"`
	Rows           []PivotRow         `json:"rows"`
	Diagnostics    []query.Diagnostic `json:"diagnostics"`
	EntityMetadata map[string]any     `json:"entityMetadata,omitempty"`
}

// Cell returns the cell at row y and column x. Values are matched by their
// printed form.
func (r *PivotResult) Cell(y, x any) (PivotCell, bool) {
	col := -1
	for i, h := range r.ColumnHeads {
		if key(h) == key(x) {
			col = i
			break
		}
	}
	if col < 0 {
		return PivotCell{}, false
	}
	for _, row := range r.Rows {
		if key(row.Head) == key(y) {
			return row.Cells[col], true
		}
	}
	return PivotCell{}, false
}

// Pivot runs req as a report grouped by its first two permitted columns and
// reshapes the rows into a grid. Column heads are the distinct values of X
// over the whole root entity, not only the filtered rows.
func (i *Interrogator) Pivot(ctx context.Context, req *query.Request) (*PivotResult, error) {
	start := time.Now()
	requestID := uuid.New().String()

	plan, err := i.builder.BuildPivot(req)
	if err != nil {
		i.logger.Warn("Pivot rejected", zap.String("requestId", requestID), zap.Error(err))
		i.emit(createEvent(PivotFailed, requestID, rootOf(req), 0, nil, err, start))
		return nil, err
	}

	result := &PivotResult{
		RequestID:      requestID,
		X:              plan.X,
		Y:              plan.Y,
		ColumnHeads:    []any{},
		Rows:           []PivotRow{},
		Diagnostics:    append([]query.Diagnostic{}, plan.Diagnostics...),
		EntityMetadata: plan.Metadata(),
	}

	if plan.Limit != nil && *plan.Limit <= 0 {
		result.Diagnostics = append(result.Diagnostics, query.InvalidLimit())
		i.emit(createEvent(PivotExecuted, requestID, plan.Root, 0, result.Diagnostics, nil, start))
		return result, nil
	}

	fail := func(err error) (*PivotResult, error) {
		result.Diagnostics = append(result.Diagnostics, i.storeFailure(requestID, plan.Plan, err))
		i.emit(createEvent(PivotFailed, requestID, plan.Root, 0, result.Diagnostics, err, start))
		return result, nil
	}

	heads, err := i.store.All(plan.Entity).
		Project(query.Projection{Alias: plan.X, Path: plan.X}).
		Distinct().
		OrderBy(query.OrderKey{Path: plan.X}).
		Materialize(ctx)
	if err != nil {
		return fail(err)
	}

	if len(plan.Ordering) == 0 {
		plan.Ordering = []query.OrderKey{{Path: plan.Y}, {Path: plan.X}}
	}
	rows, count, err := i.execute(ctx, plan.Plan)
	if err != nil {
		return fail(err)
	}

	g := newGrid(plan, heads)
	for _, row := range rows {
		g.add(row)
	}
	result.ColumnHeads = g.heads
	result.Rows = g.rows
	if count == 0 {
		result.Diagnostics = append(result.Diagnostics, query.NoRows())
	}

	i.logger.Debug("Pivot executed",
		zap.String("requestId", requestID),
		zap.String("entity", plan.Root),
		zap.Int("columns", len(g.heads)),
		zap.Int("rows", len(g.rows)),
		zap.Duration("duration", time.Since(start)),
	)
	i.emit(createEvent(PivotExecuted, requestID, plan.Root, count, result.Diagnostics, nil, start))
	return result, nil
}

type grid struct {
	x, y       string
	aggregates []string
	heads      []any
	headIndex  map[string]int
	rows       []PivotRow
	rowIndex   map[string]int
}

func newGrid(plan *query.PivotPlan, heads []schema.Document) *grid {
	g := &grid{
		x:         plan.X,
		y:         plan.Y,
		heads:     []any{},
		headIndex: make(map[string]int),
		rows:      []PivotRow{},
		rowIndex:  make(map[string]int),
	}
	for _, a := range plan.Annotations {
		if a.Alias != query.CellAlias {
			g.aggregates = append(g.aggregates, a.Alias)
		}
	}
	for _, h := range heads {
		g.column(h[plan.X])
	}
	return g
}

// column returns the index of head x, adding it and a zero cell to every
// existing row when it is new.
func (g *grid) column(x any) int {
	k := key(x)
	if idx, ok := g.headIndex[k]; ok {
		return idx
	}
	idx := len(g.heads)
	g.heads = append(g.heads, x)
	g.headIndex[k] = idx
	for r := range g.rows {
		g.rows[r].Cells = append(g.rows[r].Cells, PivotCell{Column: x})
	}
	return idx
}

// row returns the index of the row for y, seeding it with a zero cell per
// known head.
func (g *grid) row(y any) int {
	k := key(y)
	if idx, ok := g.rowIndex[k]; ok {
		return idx
	}
	cells := make([]PivotCell, len(g.heads))
	for n, h := range g.heads {
		cells[n] = PivotCell{Column: h}
	}
	g.rows = append(g.rows, PivotRow{Head: y, Cells: cells})
	g.rowIndex[k] = len(g.rows) - 1
	return len(g.rows) - 1
}

func (g *grid) add(doc schema.Document) {
	col := g.column(doc[g.x])
	r := g.row(doc[g.y])

	cell := &g.rows[r].Cells[col]
	if n, ok := query.ToInt64(doc[query.CellAlias]); ok {
		cell.Count += n
	}
	if len(g.aggregates) > 0 {
		if cell.Aggregates == nil {
			cell.Aggregates = make(map[string]any, len(g.aggregates))
		}
		for _, alias := range g.aggregates {
			cell.Aggregates[alias] = doc[alias]
		}
	}
}

func key(v any) string {
	return fmt.Sprint(v)
}
