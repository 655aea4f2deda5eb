package datasvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig configures the direct Postgres backend.
type PostgresConfig struct {
	// AssumeRole, when set, is switched to (SET LOCAL ROLE) for requests that
	// carry an access token, e.g. "authenticated".
	AssumeRole string
}

// Postgres reaches the data service's database directly. Every call runs in its own
// transaction with the caller's JWT claims installed as request.jwt.claims so
// row-level policies written against auth.uid() keep working.
type Postgres struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgres creates a Postgres backend over pool.
func NewPostgres(pool *pgxpool.Pool, cfg PostgresConfig) *Postgres {
	return &Postgres{pool: pool, cfg: cfg}
}

// Select implements Client.
func (p *Postgres) Select(ctx context.Context, q Query, dest any) error {
	if err := q.Validate(); err != nil {
		return err
	}
	sql, args := buildSelect(q)
	raw, err := p.queryJSON(ctx, "select", q.Table, sql, args...)
	if err != nil {
		return err
	}
	return decode(raw, q.Single, dest)
}

// Insert implements Client.
func (p *Postgres) Insert(ctx context.Context, table string, rows any, dest any) error {
	objs, err := asRows(rows)
	if err != nil {
		return err
	}
	if len(objs) == 0 {
		return decode([]byte("[]"), false, dest)
	}
	cols := columnsOf(objs)
	payload, err := json.Marshal(objs)
	if err != nil {
		return fmt.Errorf("datasvc: encode rows: %w", err)
	}
	tbl := ident(table)
	list := identList(cols, "")
	sql := fmt.Sprintf(`WITH ins AS (
		INSERT INTO %s (%s) SELECT %s FROM json_populate_recordset(NULL::%s, $1::json)
		RETURNING *
	) SELECT coalesce(json_agg(ins), '[]'::json) FROM ins`, tbl, list, list, tbl)
	raw, err := p.queryJSON(ctx, "insert", table, sql, string(payload))
	if err != nil {
		return err
	}
	return decode(raw, false, dest)
}

// Update implements Client.
func (p *Postgres) Update(ctx context.Context, table string, filters []Filter, patch any, dest any) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: update on %s without filters", ErrInvalidQuery, table)
	}
	objs, err := asRows(patch)
	if err != nil {
		return err
	}
	if len(objs) != 1 || len(objs[0]) == 0 {
		return fmt.Errorf("%w: update on %s needs one non-empty patch", ErrInvalidQuery, table)
	}
	payload, err := json.Marshal(objs[0])
	if err != nil {
		return fmt.Errorf("datasvc: encode patch: %w", err)
	}
	sets := make([]string, 0, len(objs[0]))
	for _, c := range columnsOf(objs) {
		sets = append(sets, fmt.Sprintf("%s = r.%s", ident(c), ident(c)))
	}
	args := []any{string(payload)}
	where, args := buildWhere(filters, args)
	tbl := ident(table)
	sql := fmt.Sprintf(`WITH upd AS (
		UPDATE %s t SET %s FROM json_populate_record(NULL::%s, $1::json) r
		WHERE %s RETURNING t.*
	) SELECT coalesce(json_agg(upd), '[]'::json) FROM upd`, tbl, strings.Join(sets, ", "), tbl, where)
	raw, err := p.queryJSON(ctx, "update", table, sql, args...)
	if err != nil {
		return err
	}
	return decode(raw, false, dest)
}

// Delete implements Client.
func (p *Postgres) Delete(ctx context.Context, table string, filters []Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: delete on %s without filters", ErrInvalidQuery, table)
	}
	where, args := buildWhere(filters, nil)
	sql := fmt.Sprintf(`DELETE FROM %s t WHERE %s`, ident(table), where)
	return p.inTx(ctx, "delete", table, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, sql, args...)
		return err
	})
}

func (p *Postgres) queryJSON(ctx context.Context, op, table, sql string, args ...any) ([]byte, error) {
	var raw []byte
	err := p.inTx(ctx, op, table, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, sql, args...).Scan(&raw)
	})
	return raw, err
}

func (p *Postgres) inTx(ctx context.Context, op, table string, fn func(tx pgx.Tx) error) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if tok := AccessToken(ctx); tok != "" {
			claims, err := unverifiedClaims(tok)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claims', $1, true)`, claims); err != nil {
				return err
			}
			if p.cfg.AssumeRole != "" {
				if _, err := tx.Exec(ctx, `SELECT set_config('role', $1, true)`, p.cfg.AssumeRole); err != nil {
					return err
				}
			}
		}
		return fn(tx)
	})
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{Op: op, Table: table, Code: pgErr.Code, Message: pgErr.Message, Details: pgErr.Detail, Err: err}
	}
	return &Error{Op: op, Table: table, Err: err}
}

// unverifiedClaims returns the JWT payload as JSON. The token has already been
// verified by the session layer; here it only feeds request.jwt.claims.
func unverifiedClaims(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("datasvc: parse access token: %w", err)
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func buildSelect(q Query) (string, []any) {
	var cols []string
	if len(q.Columns) == 0 {
		cols = append(cols, "t.*")
	} else {
		for _, c := range q.Columns {
			cols = append(cols, "t."+ident(c))
		}
	}
	for _, e := range q.Expands {
		inner := "e.*"
		if len(e.Columns) > 0 {
			inner = identList(e.Columns, "e.")
		}
		cols = append(cols, fmt.Sprintf(
			`(SELECT row_to_json(x) FROM (SELECT %s FROM %s e WHERE e."id" = t.%s) x) AS %s`,
			inner, ident(e.Table), ident(e.Column), ident(e.key())))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s t", strings.Join(cols, ", "), ident(q.Table))
	var args []any
	if len(q.Filters) > 0 {
		var where string
		where, args = buildWhere(q.Filters, nil)
		b.WriteString(" WHERE " + where)
	}
	if len(q.Orders) > 0 {
		terms := make([]string, 0, len(q.Orders))
		for _, o := range q.Orders {
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			terms = append(terms, fmt.Sprintf("t.%s %s", ident(o.Column), dir))
		}
		b.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	limit := q.Limit
	if q.Single && limit == 0 {
		limit = 2
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return fmt.Sprintf(`SELECT coalesce(json_agg(r), '[]'::json) FROM (%s) r`, b.String()), args
}

// buildWhere renders filters as text comparisons, numbering placeholders after args.
func buildWhere(filters []Filter, args []any) (string, []any) {
	conds := make([]string, 0, len(filters))
	for _, f := range filters {
		col := "t." + ident(f.Column)
		switch f.Op {
		case OpIn:
			args = append(args, f.values())
			conds = append(conds, fmt.Sprintf("%s::text = ANY($%d::text[])", col, len(args)))
		default:
			args = append(args, valueString(f.Value))
			conds = append(conds, fmt.Sprintf("%s::text = $%d", col, len(args)))
		}
	}
	return strings.Join(conds, " AND "), args
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func identList(cols []string, prefix string) string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, prefix+ident(c))
	}
	return strings.Join(out, ", ")
}

func columnsOf(objs []map[string]any) []string {
	seen := map[string]struct{}{}
	var cols []string
	for _, o := range objs {
		for k := range o {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}
