package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// From 表查询构造器（PostgREST 语法）
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table, params: url.Values{}}
}

type QueryBuilder struct {
	client *Client
	table  string
	params url.Values
	single bool
	count  bool
}

func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.params.Set("select", columns)
	return q
}

func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	q.params.Add(column, fmt.Sprintf("eq.%v", value))
	return q
}

func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	q.params.Add(column, fmt.Sprintf("is.%v", value))
	return q
}

func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.params.Add("order", column+"."+dir)
	return q
}

func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	if n > 0 {
		q.params.Set("limit", strconv.Itoa(n))
	}
	return q
}

// Single 只取一行，没有结果时后端返回 406 / PGRST116
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// Count 在 Content-Range 头里带回总数
func (q *QueryBuilder) Count() *QueryBuilder {
	q.count = true
	return q
}

func (q *QueryBuilder) url() string {
	u := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)
	if len(q.params) > 0 {
		u += "?" + q.params.Encode()
	}
	return u
}

// Execute 执行 SELECT
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.url(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q.client.setHeaders(req)
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}
	if q.count {
		req.Header.Set("Prefer", "count=exact")
	}
	return q.client.call(req, "select:"+q.table)
}

// Insert 插入并返回插入后的行
func (q *QueryBuilder) Insert(ctx context.Context, data any) (*Response, error) {
	return q.write(ctx, http.MethodPost, data, "insert:"+q.table)
}

// Update 按过滤条件更新并返回更新后的行
func (q *QueryBuilder) Update(ctx context.Context, data any) (*Response, error) {
	return q.write(ctx, http.MethodPatch, data, "update:"+q.table)
}

func (q *QueryBuilder) write(ctx context.Context, method string, data any, op string) (*Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.url(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q.client.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	return q.client.call(req, op)
}
