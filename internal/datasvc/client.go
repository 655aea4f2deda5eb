// Package datasvc is the boundary with the remote data service: table queries with
// filters, ordering and expansion, single-row mutations, and the error taxonomy
// (no rows, unique violation, everything else) callers branch on.
package datasvc

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
)

// Client is the request/response API of the remote data service.
//
// dest receives decoded rows: a pointer to a slice for lists, or a pointer to a
// struct for single rows (Query.One, or the first returned row of a mutation).
// dest may be nil when the caller does not need the rows.
type Client interface {
	Select(ctx context.Context, q Query, dest any) error
	Insert(ctx context.Context, table string, rows any, dest any) error
	Update(ctx context.Context, table string, filters []Filter, patch any, dest any) error
	Delete(ctx context.Context, table string, filters []Filter) error
}

type accessTokenKey struct{}

// WithAccessToken attaches the caller's access token to ctx. Backends use it so the
// data service evaluates row-level policies as that caller.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessToken returns the token attached by WithAccessToken.
func AccessToken(ctx context.Context) string {
	tok, _ := ctx.Value(accessTokenKey{}).(string)
	return tok
}

// decode unmarshals a JSON array of rows into dest. When dest is not a slice
// pointer the array must hold exactly one row when single is set, or at least one
// row otherwise (the first is used).
func decode(raw []byte, single bool, dest any) error {
	if dest == nil {
		return nil
	}
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("datasvc: dest must be a non-nil pointer, got %T", dest)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("datasvc: decode rows: %w", err)
	}
	if !single && rv.Elem().Kind() == reflect.Slice {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fmt.Errorf("datasvc: decode rows: %w", err)
		}
		return nil
	}
	switch {
	case len(rows) == 0:
		return ErrNoRows
	case single && len(rows) > 1:
		return ErrMultipleRows
	}
	if err := json.Unmarshal(rows[0], dest); err != nil {
		return fmt.Errorf("datasvc: decode row: %w", err)
	}
	return nil
}

// asRows marshals rows (a struct, map, or slice of either) into a JSON array of objects.
func asRows(rows any) ([]map[string]any, error) {
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("datasvc: encode rows: %w", err)
	}
	if len(b) > 0 && b[0] == '{' {
		b = append(append([]byte{'['}, b...), ']')
	}
	var out []map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("datasvc: rows must be objects: %w", err)
	}
	return out, nil
}

// Bounded wraps c so every call runs under its own timeout and failures are logged.
func Bounded(c Client, timeout time.Duration, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &bounded{next: c, timeout: timeout, logger: logger}
}

type bounded struct {
	next    Client
	timeout time.Duration
	logger  *zap.Logger
}

func (b *bounded) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, b.timeout)
}

func (b *bounded) log(op, table string, err error) {
	if err == nil || IsNotFound(err) {
		return
	}
	b.logger.Debug("data service call failed", zap.String("op", op), zap.String("table", table), zap.Error(err))
}

func (b *bounded) Select(ctx context.Context, q Query, dest any) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	err := b.next.Select(ctx, q, dest)
	b.log("select", q.Table, err)
	return err
}

func (b *bounded) Insert(ctx context.Context, table string, rows any, dest any) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	err := b.next.Insert(ctx, table, rows, dest)
	b.log("insert", table, err)
	return err
}

func (b *bounded) Update(ctx context.Context, table string, filters []Filter, patch any, dest any) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	err := b.next.Update(ctx, table, filters, patch, dest)
	b.log("update", table, err)
	return err
}

func (b *bounded) Delete(ctx context.Context, table string, filters []Filter) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	err := b.next.Delete(ctx, table, filters)
	b.log("delete", table, err)
	return err
}
