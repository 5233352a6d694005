package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// User 托管认证里的用户
type User struct {
	ID    string
	Email string
	Phone string
	Role  string
}

// GetUser 用用户的 access token 换取用户信息，token 无效时返回 *Error(401)
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	c.setHeaders(req)

	resp, err := c.call(req, "auth:user")
	if err != nil {
		return nil, err
	}

	body := gjson.ParseBytes(resp.Body)
	user := &User{
		ID:    body.Get("id").String(),
		Email: body.Get("email").String(),
		Phone: body.Get("phone").String(),
		Role:  body.Get("role").String(),
	}
	if user.ID == "" {
		return nil, fmt.Errorf("auth user: %w", ErrMalformedResult)
	}
	return user, nil
}
