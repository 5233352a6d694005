package backend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// PublicURL 凭证/证件图片的公开地址
func (c *Client) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, strings.TrimPrefix(path, "/"))
}

// Upload 上传对象，同名覆盖
func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	reqURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, strings.TrimPrefix(path, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	_, err = c.call(req, "storage:upload")
	return err
}
