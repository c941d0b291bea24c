package toolcall

import (
	"strings"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

// Error messages returned to the model. They never name a hidden column.
const (
	MsgUpdateNeedsFilter  = "Update requires at least one filter"
	MsgDeleteNeedsConfirm = "Delete requires confirm: true"
	MsgDeleteNeedsFilter  = "Delete requires at least one filter"
	MsgFilterNotPermitted = "Filter not permitted on this resource"
	MsgColumnUnavailable  = "Requested column is not available"
	MsgSortUnavailable    = "Sort column is not available"
	MsgNoWritableColumns  = "Data contains no permitted columns"
	MsgNonScalarFilter    = "Filter values must be strings, numbers, booleans or null"
)

// QueryOptions tune query planning.
type QueryOptions struct {
	// DefaultLimit applies when the caller passes no limit.
	DefaultLimit int
	// StrictFilters rejects filters on hidden columns instead of ignoring them.
	StrictFilters bool
}

// Planner turns decoded arguments into store requests constrained by one
// access policy.
type Planner struct {
	policy *datasource.AccessPolicy
	target Target
}

// NewPlanner returns a planner for p.
func NewPlanner(p *datasource.AccessPolicy) *Planner {
	schema := p.Schema
	if schema == "" {
		schema = datasource.DefaultSchema
	}
	return &Planner{policy: p, target: Target{Schema: schema, Table: p.Table}}
}

// Target returns the table the planner operates on.
func (pl *Planner) Target() Target {
	return pl.target
}

// Query plans a read. Filters on hidden or malformed columns are dropped and
// reported in ignored unless opts.StrictFilters is set.
func (pl *Planner) Query(args QueryArgs, opts QueryOptions) (q SelectQuery, ignored []string, err error) {
	q.Target = pl.target

	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = 10
	}
	if args.Limit != nil && *args.Limit > 0 {
		limit = *args.Limit
	}
	if limit > pl.policy.MaxRowsPerQuery {
		limit = pl.policy.MaxRowsPerQuery
	}
	q.Limit = limit

	q.Filters = make(map[string]any, len(args.Filters))
	for col, v := range args.Filters {
		if !pl.visible(col) {
			if opts.StrictFilters {
				return SelectQuery{}, nil, PolicyViolation(MsgFilterNotPermitted)
			}
			ignored = append(ignored, col)
			continue
		}
		if !isScalar(v) {
			return SelectQuery{}, nil, Invalid(MsgNonScalarFilter)
		}
		q.Filters[col] = v
	}

	if len(args.Select) > 0 {
		cols := make([]string, 0, len(args.Select))
		for _, col := range args.Select {
			if !pl.visible(col) {
				return SelectQuery{}, nil, Invalid(MsgColumnUnavailable)
			}
			cols = append(cols, col)
		}
		q.Columns = cols
	} else {
		q.Columns = pl.policy.EffectiveColumns()
	}

	if args.OrderBy != "" {
		order, err := pl.parseOrder(args.OrderBy)
		if err != nil {
			return SelectQuery{}, nil, err
		}
		q.Order = order
	}
	return q, ignored, nil
}

// Insert plans an insert. Keys outside the visible column set are dropped.
func (pl *Planner) Insert(args InsertArgs) (Mutation, error) {
	data := pl.writable(args.Data)
	if len(data) == 0 {
		return Mutation{}, Invalid(MsgNoWritableColumns)
	}
	return Mutation{Target: pl.target, Data: data}, nil
}

// Update plans an update. At least one filter is required and every filter
// must target a visible column.
func (pl *Planner) Update(args UpdateArgs) (Mutation, error) {
	if len(args.Filters) == 0 {
		return Mutation{}, Invalid(MsgUpdateNeedsFilter)
	}
	filters, err := pl.mutationFilters(args.Filters)
	if err != nil {
		return Mutation{}, err
	}
	data := pl.writable(args.Data)
	if len(data) == 0 {
		return Mutation{}, Invalid(MsgNoWritableColumns)
	}
	return Mutation{Target: pl.target, Filters: filters, Data: data}, nil
}

// Delete plans a delete. Confirmation is checked before filters.
func (pl *Planner) Delete(args DeleteArgs) (Mutation, error) {
	if !args.Confirm {
		return Mutation{}, Invalid(MsgDeleteNeedsConfirm)
	}
	if len(args.Filters) == 0 {
		return Mutation{}, Invalid(MsgDeleteNeedsFilter)
	}
	filters, err := pl.mutationFilters(args.Filters)
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{Target: pl.target, Filters: filters}, nil
}

// Project removes hidden columns from rows in place and returns them.
func (pl *Planner) Project(rows []Row) []Row {
	for _, row := range rows {
		for col := range row {
			if !pl.policy.ColumnAllowed(col) {
				delete(row, col)
			}
		}
	}
	return rows
}

func (pl *Planner) visible(col string) bool {
	return datasource.ValidIdentifier(col) && pl.policy.ColumnAllowed(col)
}

// mutationFilters fails closed: dropping a filter would widen the write.
func (pl *Planner) mutationFilters(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for col, v := range in {
		if !pl.visible(col) {
			return nil, PolicyViolation(MsgFilterNotPermitted)
		}
		if !isScalar(v) {
			return nil, Invalid(MsgNonScalarFilter)
		}
		out[col] = v
	}
	return out, nil
}

func (pl *Planner) writable(in map[string]any) Row {
	out := make(Row, len(in))
	for col, v := range in {
		if pl.visible(col) {
			out[col] = v
		}
	}
	return out
}

func (pl *Planner) parseOrder(s string) (*Order, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return nil, Invalid(`order_by must be "column asc" or "column desc"`)
	}
	if !pl.visible(fields[0]) {
		return nil, Invalid(MsgSortUnavailable)
	}
	order := &Order{Column: fields[0]}
	if len(fields) == 2 {
		switch strings.ToLower(fields[1]) {
		case "asc":
		case "desc":
			order.Desc = true
		default:
			return nil, Invalid(`order_by must be "column asc" or "column desc"`)
		}
	}
	return order, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
