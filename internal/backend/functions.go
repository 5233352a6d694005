package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const fnScrapeAliExpress = "scrape-aliexpress"

// Product 速卖通商品信息
type Product struct {
	Title    string
	Price    decimal.Decimal
	Currency string
	ImageURL string
}

// ScrapeAliExpress 调用云函数抓取商品标题、价格、图片
func (c *Client) ScrapeAliExpress(ctx context.Context, productURL string) (*Product, error) {
	res, err := c.invoke(ctx, fnScrapeAliExpress, map[string]string{"url": productURL})
	if err != nil {
		return nil, err
	}

	// 兼容 {data: {...}} 和直接返回对象两种形式
	data := res
	if d := res.Get("data"); d.IsObject() {
		data = d
	}

	p := &Product{
		Title:    data.Get("title").String(),
		Currency: data.Get("currency").String(),
		ImageURL: data.Get("image").String(),
	}
	if p.ImageURL == "" {
		p.ImageURL = data.Get("image_url").String()
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}

	price, perr := decimal.NewFromString(data.Get("price").String())
	if p.Title == "" || perr != nil || !price.IsPositive() {
		return nil, fmt.Errorf("%s: %w", fnScrapeAliExpress, ErrMalformedResult)
	}
	p.Price = price
	return p, nil
}

func (c *Client) invoke(ctx context.Context, name string, payload any) (gjson.Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/v1/"+name, bytes.NewReader(data))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.call(req, "fn:"+name)
	if err != nil {
		return gjson.Result{}, err
	}
	return parseResult(name, resp)
}
