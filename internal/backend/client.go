package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"opay/internal/metrics"
)

// ============================================================================
// 托管后端客户端
// ============================================================================
//
// 余额、角色、审核状态都以托管后端为准，本服务通过 REST 访问：
//   - /rest/v1/<table>        表读写（PostgREST）
//   - /rest/v1/rpc/<fn>       存储过程
//   - /auth/v1/user           校验用户 token
//   - /storage/v1/object/...  凭证图片
//   - /functions/v1/<name>    云函数（速卖通商品抓取）
//
// 【关键点】所有存储过程都有显式的参数/返回类型，在边界处校验返回结构，
// 不把动态 JSON 透传给业务层
//
// ============================================================================

// Config 客户端配置
type Config struct {
	URL        string
	APIKey     string
	ServiceKey string // 服务端密钥，不下发给客户端
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 托管后端 REST 客户端
type Client struct {
	baseURL    string
	apiKey     string
	serviceKey string
	httpClient *http.Client
	log        *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("backend url 不能为空")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("backend api_key 不能为空")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		serviceKey: cfg.ServiceKey,
		httpClient: httpClient,
		log:        log.Named("backend"),
	}, nil
}

// Response 原始响应
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)

	key := c.serviceKey
	if key == "" {
		key = c.apiKey
	}
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}

// call 发请求并记录指标，非 2xx 返回 *Error
func (c *Client) call(req *http.Request, op string) (*Response, error) {
	start := time.Now()
	resp, err := c.do(req)
	metrics.BackendLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err == nil {
		err = resp.Error()
	}
	if err != nil {
		metrics.BackendCalls.WithLabelValues(op, "error").Inc()
		c.log.Warn("后端调用失败", zap.String("op", op), zap.Error(err))
		return resp, err
	}

	metrics.BackendCalls.WithLabelValues(op, "ok").Inc()
	return resp, nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}, nil
}
