package toolcall

import (
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

func themesPolicy() *datasource.AccessPolicy {
	return &datasource.AccessPolicy{
		Schema:          "public",
		Table:           "themes",
		AccessLevel:     datasource.AccessFull,
		Enabled:         true,
		AllowedColumns:  []string{"id", "name", "css", "owner"},
		ExcludedColumns: []string{"owner"},
		MaxRowsPerQuery: 50,
	}
}

func intp(n int) *int { return &n }

func wantKind(t *testing.T, err error, kind ErrorKind, msg string) {
	t.Helper()
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if te.Kind != kind {
		t.Errorf("kind = %s, want %s", te.Kind, kind)
	}
	if msg != "" && te.Message != msg {
		t.Errorf("message = %q, want %q", te.Message, msg)
	}
}

func TestPlanner_QueryLimit(t *testing.T) {
	t.Parallel()

	pl := NewPlanner(themesPolicy())
	tests := []struct {
		name  string
		limit *int
		want  int
	}{
		{"default", nil, 10},
		{"explicit", intp(25), 25},
		{"clamped to cap", intp(100), 50},
		{"non-positive uses default", intp(0), 10},
	}
	for _, tt := range tests {
		q, _, err := pl.Query(QueryArgs{Limit: tt.limit}, QueryOptions{DefaultLimit: 10})
		if err != nil {
			t.Fatalf("%s: Query() error: %v", tt.name, err)
		}
		if q.Limit != tt.want {
			t.Errorf("%s: Limit = %d, want %d", tt.name, q.Limit, tt.want)
		}
	}
}

func TestPlanner_QueryFilters(t *testing.T) {
	t.Parallel()

	pl := NewPlanner(themesPolicy())
	args := QueryArgs{Filters: map[string]any{"name": "Dark", "owner": "u1", "secret": 1, "bad col": 1}}

	q, ignored, err := pl.Query(args, QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if !reflect.DeepEqual(q.Filters, map[string]any{"name": "Dark"}) {
		t.Errorf("Filters = %v", q.Filters)
	}
	slices.Sort(ignored)
	if !slices.Equal(ignored, []string{"bad col", "owner", "secret"}) {
		t.Errorf("ignored = %v", ignored)
	}

	_, _, err = pl.Query(args, QueryOptions{StrictFilters: true})
	wantKind(t, err, KindPolicyViolation, MsgFilterNotPermitted)

	_, _, err = pl.Query(QueryArgs{Filters: map[string]any{"name": []any{"a"}}}, QueryOptions{})
	wantKind(t, err, KindValidation, MsgNonScalarFilter)
}

func TestPlanner_QuerySelectAndOrder(t *testing.T) {
	t.Parallel()

	pl := NewPlanner(themesPolicy())

	q, _, err := pl.Query(QueryArgs{}, QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(q.Columns, []string{"id", "name", "css"}) {
		t.Errorf("default Columns = %v", q.Columns)
	}

	_, _, err = pl.Query(QueryArgs{Select: []string{"id", "owner"}}, QueryOptions{})
	wantKind(t, err, KindValidation, MsgColumnUnavailable)

	q, _, err = pl.Query(QueryArgs{OrderBy: "name desc"}, QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if q.Order == nil || q.Order.Column != "name" || !q.Order.Desc {
		t.Errorf("Order = %+v", q.Order)
	}
	q, _, _ = pl.Query(QueryArgs{OrderBy: "name"}, QueryOptions{})
	if q.Order == nil || q.Order.Desc {
		t.Errorf("Order without direction = %+v, want ascending", q.Order)
	}

	_, _, err = pl.Query(QueryArgs{OrderBy: "owner asc"}, QueryOptions{})
	wantKind(t, err, KindValidation, MsgSortUnavailable)
}

func TestPlanner_Mutations(t *testing.T) {
	t.Parallel()

	pl := NewPlanner(themesPolicy())

	m, err := pl.Insert(InsertArgs{Data: map[string]any{"name": "Test", "owner": "u1", "unknown": 1}})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if !reflect.DeepEqual(m.Data, Row{"name": "Test"}) {
		t.Errorf("insert Data = %v", m.Data)
	}
	_, err = pl.Insert(InsertArgs{Data: map[string]any{"owner": "u1"}})
	wantKind(t, err, KindValidation, MsgNoWritableColumns)

	_, err = pl.Update(UpdateArgs{Data: map[string]any{"name": "x"}})
	wantKind(t, err, KindValidation, MsgUpdateNeedsFilter)

	_, err = pl.Update(UpdateArgs{Filters: map[string]any{"owner": "u1"}, Data: map[string]any{"name": "x"}})
	wantKind(t, err, KindPolicyViolation, MsgFilterNotPermitted)

	m, err = pl.Update(UpdateArgs{Filters: map[string]any{"id": "t1"}, Data: map[string]any{"name": "x", "owner": "u2"}})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if !reflect.DeepEqual(m.Data, Row{"name": "x"}) || !reflect.DeepEqual(m.Filters, map[string]any{"id": "t1"}) {
		t.Errorf("update mutation = %+v", m)
	}

	_, err = pl.Delete(DeleteArgs{Filters: map[string]any{"id": "x"}, Confirm: false})
	wantKind(t, err, KindValidation, MsgDeleteNeedsConfirm)

	_, err = pl.Delete(DeleteArgs{Confirm: false})
	wantKind(t, err, KindValidation, MsgDeleteNeedsConfirm)

	_, err = pl.Delete(DeleteArgs{Confirm: true})
	wantKind(t, err, KindValidation, MsgDeleteNeedsFilter)

	_, err = pl.Delete(DeleteArgs{Filters: map[string]any{"owner": "u1"}, Confirm: true})
	wantKind(t, err, KindPolicyViolation, MsgFilterNotPermitted)
	if strings.Contains(err.Error(), "owner") {
		t.Errorf("error %q names a hidden column", err)
	}
}

func TestPlanner_Project(t *testing.T) {
	t.Parallel()

	pl := NewPlanner(themesPolicy())
	rows := pl.Project([]Row{{"id": 1, "name": "a", "owner": "u1", "internal": true}})
	if !reflect.DeepEqual(rows[0], Row{"id": 1, "name": "a"}) {
		t.Errorf("Project() = %v", rows[0])
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	target := Target{Schema: "public", Table: "themes"}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			"insert",
			RenderInsert(Mutation{Target: target, Data: Row{"name": "O'Brien", "active": true, "rank": int64(3)}}),
			"INSERT INTO public.themes (active, name, rank) VALUES (true, 'O''Brien', 3)",
		},
		{
			"update",
			RenderUpdate(Mutation{Target: target, Filters: map[string]any{"id": "x", "parent": nil}, Data: Row{"name": "Neu", "score": 1.5}}),
			"UPDATE public.themes SET name = 'Neu', score = 1.5 WHERE id = 'x' AND parent IS NULL",
		},
		{
			"delete",
			RenderDelete(Mutation{Target: target, Filters: map[string]any{"id": "x"}}),
			"DELETE FROM public.themes WHERE id = 'x'",
		},
		{
			"json value",
			Literal(map[string]any{"a": 1}),
			`'{"a":1}'`,
		},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s:\n got %s\nwant %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	q, err := Decode[QueryArgs](map[string]any{"limit": float64(100), "filters": map[string]any{"id": float64(7), "ratio": 0.5}})
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if q.Limit == nil || *q.Limit != 100 {
		t.Errorf("Limit = %v", q.Limit)
	}
	if q.Filters["id"] != int64(7) || q.Filters["ratio"] != 0.5 {
		t.Errorf("Filters = %#v", q.Filters)
	}

	d, err := Decode[DeleteArgs](map[string]any{"filters": map[string]any{"id": "x"}, "confirm": false})
	if err != nil || d.Confirm {
		t.Errorf("Decode(delete) = %+v, %v", d, err)
	}

	_, err = Decode[QueryArgs](map[string]any{"limit": "ten"})
	if KindOf(err) != KindValidation {
		t.Errorf("Decode(bad limit) kind = %s, want validation", KindOf(err))
	}

	if args, err := ParseArgs(" "); err != nil || len(args) != 0 {
		t.Errorf("ParseArgs(blank) = %v, %v", args, err)
	}
	if _, err := ParseArgs("[1]"); err == nil {
		t.Error("ParseArgs(array) should fail")
	}
}

func TestDecode_SanitizesStrings(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", MaxStringLength+10)
	in, err := Decode[InsertArgs](map[string]any{"data": map[string]any{
		"name": "Da\x00rk",
		"note": long,
		"tags": []any{"x\x00"},
	}})
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if in.Data["name"] != "Dark" {
		t.Errorf("name = %q, want NUL removed", in.Data["name"])
	}
	if got := in.Data["note"].(string); len(got) != MaxStringLength {
		t.Errorf("note length = %d, want %d", len(got), MaxStringLength)
	}
	if tags := in.Data["tags"].([]any); tags[0] != "x" {
		t.Errorf("tags = %#v", tags)
	}
}

func TestResult_AuditPayload(t *testing.T) {
	t.Parallel()

	if p := Failure(Invalid("nope")).AuditPayload(); p != nil {
		t.Errorf("failure payload = %v, want nil", p)
	}
	n := 1
	p := Result{Success: true, RowCount: &n, DryRunQuery: "DELETE FROM x WHERE id = 1"}.AuditPayload()
	if p["rowCount"] != 1 || p["dryRunQuery"] == nil {
		t.Errorf("payload = %v", p)
	}
}
