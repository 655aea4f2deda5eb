package datasvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// RESTConfig configures the PostgREST backend.
type RESTConfig struct {
	BaseURL string // project URL, e.g. https://xyz.supabase.co
	APIKey  string // anon (public) key; used as bearer when the context carries no access token
}

// REST talks to a PostgREST data API (/rest/v1).
type REST struct {
	cfg  RESTConfig
	http *http.Client
}

// NewREST creates a PostgREST backend. httpClient may be nil.
func NewREST(cfg RESTConfig, httpClient *http.Client) *REST {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &REST{cfg: cfg, http: httpClient}
}

type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// Select implements Client.
func (r *REST) Select(ctx context.Context, q Query, dest any) error {
	if err := q.Validate(); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("select", selectParam(q))
	addFilters(params, q.Filters)
	if len(q.Orders) > 0 {
		terms := make([]string, 0, len(q.Orders))
		for _, o := range q.Orders {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			terms = append(terms, o.Column+"."+dir)
		}
		params.Set("order", strings.Join(terms, ","))
	}
	limit := q.Limit
	if q.Single && limit == 0 {
		// Two rows are enough to tell "one" from "many".
		limit = 2
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	raw, err := r.do(ctx, "select", http.MethodGet, q.Table, params, nil)
	if err != nil {
		return err
	}
	return decode(raw, q.Single, dest)
}

// Insert implements Client.
func (r *REST) Insert(ctx context.Context, table string, rows any, dest any) error {
	body, err := asRows(rows)
	if err != nil {
		return err
	}
	raw, err := r.do(ctx, "insert", http.MethodPost, table, nil, body)
	if err != nil {
		return err
	}
	return decode(raw, false, dest)
}

// Update implements Client.
func (r *REST) Update(ctx context.Context, table string, filters []Filter, patch any, dest any) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: update on %s without filters", ErrInvalidQuery, table)
	}
	params := url.Values{}
	addFilters(params, filters)
	raw, err := r.do(ctx, "update", http.MethodPatch, table, params, patch)
	if err != nil {
		return err
	}
	return decode(raw, false, dest)
}

// Delete implements Client.
func (r *REST) Delete(ctx context.Context, table string, filters []Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: delete on %s without filters", ErrInvalidQuery, table)
	}
	params := url.Values{}
	addFilters(params, filters)
	_, err := r.do(ctx, "delete", http.MethodDelete, table, params, nil)
	return err
}

func (r *REST) do(ctx context.Context, op, method, table string, params url.Values, body any) ([]byte, error) {
	u := r.cfg.BaseURL + "/rest/v1/" + url.PathEscape(table)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("datasvc: encode body: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &Error{Op: op, Table: table, Err: err}
	}
	bearer := AccessToken(ctx)
	if bearer == "" {
		bearer = r.cfg.APIKey
	}
	req.Header.Set("apikey", r.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Table: table, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Table: table, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var re restError
		_ = json.Unmarshal(raw, &re)
		e := &Error{Op: op, Table: table, Code: re.Code, Status: resp.StatusCode, Message: re.Message, Details: re.Details}
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		if re.Code == CodeNoRows {
			e.Err = ErrNoRows
		}
		return nil, e
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("[]")
	}
	return raw, nil
}

func selectParam(q Query) string {
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ",")
	}
	for _, e := range q.Expands {
		inner := "*"
		if len(e.Columns) > 0 {
			inner = strings.Join(e.Columns, ",")
		}
		cols += fmt.Sprintf(",%s:%s!%s(%s)", e.key(), e.Table, e.Column, inner)
	}
	return cols
}

func addFilters(params url.Values, filters []Filter) {
	for _, f := range filters {
		switch f.Op {
		case OpIn:
			vs := f.values()
			quoted := make([]string, 0, len(vs))
			for _, v := range vs {
				quoted = append(quoted, strconv.Quote(v))
			}
			params.Add(f.Column, "in.("+strings.Join(quoted, ",")+")")
		default:
			params.Add(f.Column, "eq."+valueString(f.Value))
		}
	}
}
