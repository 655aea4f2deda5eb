package datasvc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// timestampLayout keeps generated timestamps lexically sortable.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Memory is an in-process data service with unique keys, column defaults,
// expansion and fault injection. It backs tests and local runs without a
// remote project.
type Memory struct {
	mu       sync.Mutex
	tables   map[string][]map[string]any
	unique   map[string][][]string
	defaults map[string]func(now string) map[string]any
	refs     map[string][]reference
	faults   map[string]error
	hooks    map[string]func()
	now      func() time.Time
}

// reference is a foreign key pointing at a parent table's id. Deleting the
// parent removes the row, or clears the column when setNull is true.
type reference struct {
	table   string
	column  string
	setNull bool
}

// NewMemory returns an empty store with the portal's schema constraints.
func NewMemory() *Memory {
	return &Memory{
		tables: map[string][]map[string]any{},
		unique: map[string][][]string{
			"profiles":      {{"id"}, {"email"}},
			"clubs":         {{"id"}, {"admin_user_id"}},
			"memberships":   {{"id"}, {"user_id", "club_id"}},
			"events":        {{"id"}},
			"announcements": {{"id"}},
		},
		defaults: map[string]func(string) map[string]any{
			"profiles": func(now string) map[string]any {
				return map[string]any{"role": "user", "suspended": false, "created_at": now}
			},
			"clubs": func(now string) map[string]any {
				return map[string]any{"id": uuid.NewString(), "created_at": now}
			},
			"memberships": func(now string) map[string]any {
				return map[string]any{"id": uuid.NewString(), "joined_at": now}
			},
			"events": func(now string) map[string]any {
				return map[string]any{"id": uuid.NewString(), "created_at": now, "published": true}
			},
			"announcements": func(now string) map[string]any {
				return map[string]any{"id": uuid.NewString(), "created_at": now, "pinned": false}
			},
		},
		refs: map[string][]reference{
			"profiles": {
				{table: "clubs", column: "admin_user_id"},
				{table: "memberships", column: "user_id"},
				{table: "events", column: "created_by", setNull: true},
				{table: "announcements", column: "created_by", setNull: true},
			},
			"clubs": {
				{table: "memberships", column: "club_id"},
				{table: "events", column: "club_id"},
				{table: "announcements", column: "club_id"},
			},
		},
		faults: map[string]error{},
		hooks:  map[string]func(){},
		now:    time.Now,
	}
}

// SetClock replaces the clock used for generated timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Fail makes every op on table fail with err. An empty op matches all ops
// ("select", "insert", "update", "delete"). A nil err clears the fault.
func (m *Memory) Fail(table, op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := table + ":" + op
	if err == nil {
		delete(m.faults, key)
		return
	}
	m.faults[key] = err
}

// Intercept runs fn before the next op on table, once.
func (m *Memory) Intercept(table, op string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[table+":"+op] = fn
}

// Count returns the number of rows in table.
func (m *Memory) Count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

// Seed inserts rows, bypassing faults and hooks.
func (m *Memory) Seed(table string, rows any) error {
	objs, err := asRows(rows)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err = m.insertLocked(table, objs)
	return err
}

func (m *Memory) enter(table, op string) error {
	m.mu.Lock()
	hook := m.hooks[table+":"+op]
	delete(m.hooks, table+":"+op)
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	err, ok := m.faults[table+":"+op]
	if !ok {
		err, ok = m.faults[table+":"]
	}
	if !ok {
		return nil
	}
	if de, isDataErr := err.(*Error); isDataErr {
		return de
	}
	return &Error{Op: op, Table: table, Message: err.Error(), Err: err}
}

// Select implements Client.
func (m *Memory) Select(ctx context.Context, q Query, dest any) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.enter(q.Table, "select"); err != nil {
		return err
	}
	m.mu.Lock()
	var out []map[string]any
	for _, row := range m.tables[q.Table] {
		if matches(row, q.Filters) {
			out = append(out, row)
		}
	}
	if len(q.Orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Orders {
				c := compareValues(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	projected := make([]map[string]any, 0, len(out))
	for _, row := range out {
		projected = append(projected, m.projectLocked(row, q))
	}
	m.mu.Unlock()

	raw, err := json.Marshal(projected)
	if err != nil {
		return err
	}
	return decode(raw, q.Single, dest)
}

// Insert implements Client.
func (m *Memory) Insert(ctx context.Context, table string, rows any, dest any) error {
	objs, err := asRows(rows)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.enter(table, "insert"); err != nil {
		return err
	}
	m.mu.Lock()
	inserted, err := m.insertLocked(table, objs)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(inserted)
	if err != nil {
		return err
	}
	return decode(raw, false, dest)
}

// Update implements Client.
func (m *Memory) Update(ctx context.Context, table string, filters []Filter, patch any, dest any) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: update on %s without filters", ErrInvalidQuery, table)
	}
	objs, err := asRows(patch)
	if err != nil {
		return err
	}
	if len(objs) != 1 {
		return fmt.Errorf("%w: update on %s needs one patch", ErrInvalidQuery, table)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.enter(table, "update"); err != nil {
		return err
	}
	m.mu.Lock()
	var updated []map[string]any
	rows := m.tables[table]
	for i, row := range rows {
		if !matches(row, filters) {
			continue
		}
		next := copyRow(row)
		for k, v := range objs[0] {
			next[k] = v
		}
		if err := m.checkUniqueLocked(table, next, i); err != nil {
			m.mu.Unlock()
			return err
		}
		rows[i] = next
		updated = append(updated, copyRow(next))
	}
	m.mu.Unlock()
	if updated == nil {
		updated = []map[string]any{}
	}
	raw, err := json.Marshal(updated)
	if err != nil {
		return err
	}
	return decode(raw, false, dest)
}

// Delete implements Client.
func (m *Memory) Delete(ctx context.Context, table string, filters []Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: delete on %s without filters", ErrInvalidQuery, table)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.enter(table, "delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(table, func(row map[string]any) bool { return matches(row, filters) })
	return nil
}

// deleteLocked removes the rows of table selected by match and follows the
// table's references the way the schema's ON DELETE rules do.
func (m *Memory) deleteLocked(table string, match func(map[string]any) bool) {
	var ids map[string]bool
	kept := m.tables[table][:0]
	for _, row := range m.tables[table] {
		if !match(row) {
			kept = append(kept, row)
			continue
		}
		if ids == nil {
			ids = map[string]bool{}
		}
		ids[valueString(row["id"])] = true
	}
	m.tables[table] = kept
	if len(ids) == 0 {
		return
	}
	for _, ref := range m.refs[table] {
		points := func(row map[string]any) bool {
			v, ok := row[ref.column]
			return ok && v != nil && ids[valueString(v)]
		}
		if !ref.setNull {
			m.deleteLocked(ref.table, points)
			continue
		}
		for _, row := range m.tables[ref.table] {
			if points(row) {
				row[ref.column] = nil
			}
		}
	}
}

func (m *Memory) insertLocked(table string, objs []map[string]any) ([]map[string]any, error) {
	now := m.now().UTC().Format(timestampLayout)
	out := make([]map[string]any, 0, len(objs))
	for _, obj := range objs {
		row := map[string]any{}
		if def, ok := m.defaults[table]; ok {
			for k, v := range def(now) {
				row[k] = v
			}
		} else {
			row["id"] = uuid.NewString()
		}
		for k, v := range obj {
			row[k] = v
		}
		if err := m.checkUniqueLocked(table, row, -1); err != nil {
			return nil, err
		}
		m.tables[table] = append(m.tables[table], row)
		out = append(out, copyRow(row))
	}
	return out, nil
}

// checkUniqueLocked rejects row if another row (other than index self) shares a unique key.
func (m *Memory) checkUniqueLocked(table string, row map[string]any, self int) error {
	for _, key := range m.unique[table] {
		for i, other := range m.tables[table] {
			if i == self {
				continue
			}
			same := true
			for _, col := range key {
				a, b := row[col], other[col]
				if a == nil || b == nil || valueString(a) != valueString(b) {
					same = false
					break
				}
			}
			if same {
				return &Error{
					Op:      "insert",
					Table:   table,
					Code:    CodeUniqueViolation,
					Status:  409,
					Message: fmt.Sprintf("duplicate key value violates unique constraint %q", table+"_"+strings.Join(key, "_")+"_key"),
				}
			}
		}
	}
	return nil
}

func (m *Memory) projectLocked(row map[string]any, q Query) map[string]any {
	var out map[string]any
	if len(q.Columns) == 0 {
		out = copyRow(row)
	} else {
		out = make(map[string]any, len(q.Columns))
		for _, c := range q.Columns {
			out[c] = row[c]
		}
	}
	for _, e := range q.Expands {
		var related any
		for _, other := range m.tables[e.Table] {
			if valueString(other["id"]) == valueString(row[e.Column]) {
				if len(e.Columns) == 0 {
					related = copyRow(other)
				} else {
					sub := make(map[string]any, len(e.Columns))
					for _, c := range e.Columns {
						sub[c] = other[c]
					}
					related = sub
				}
				break
			}
		}
		out[e.key()] = related
	}
	return out
}

func matches(row map[string]any, filters []Filter) bool {
	for _, f := range filters {
		got := valueString(row[f.Column])
		ok := false
		for _, want := range f.values() {
			if got == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// compareValues orders JSON scalars; nil sorts after everything, as NULLS LAST does.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return compareOrdered(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			return compareOrdered(strconv.FormatBool(x), strconv.FormatBool(y))
		}
	case string:
		if y, ok := b.(string); ok {
			tx, errx := time.Parse(time.RFC3339Nano, x)
			ty, erry := time.Parse(time.RFC3339Nano, y)
			if errx == nil && erry == nil {
				return tx.Compare(ty)
			}
			return strings.Compare(x, y)
		}
	}
	return strings.Compare(valueString(a), valueString(b))
}

func compareOrdered[T float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
