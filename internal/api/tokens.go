package api

import (
	"context"
	"fmt"
)

// Login obtains a JWT session with the configured credentials and stores
// the access token on the client for subsequent requests.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	var pair TokenPair
	req := tokenObtainRequest{Username: username, Password: password}
	if err := c.post(ctx, "/api/token/", req, &pair); err != nil {
		return nil, fmt.Errorf("obtain token: %w", err)
	}

	c.SetBearerToken(pair.Access)
	return &pair, nil
}

// RefreshToken rotates the access token using a refresh token. The returned
// pair carries the previous refresh token when the server does not rotate
// refresh tokens. The new access token is stored on the client.
func (c *Client) RefreshToken(ctx context.Context, refresh string) (*TokenPair, error) {
	var resp tokenRefreshResponse
	req := tokenRefreshRequest{Refresh: refresh}
	if err := c.post(ctx, "/api/token/refresh/", req, &resp); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	pair := &TokenPair{Access: resp.Access, Refresh: resp.Refresh}
	if pair.Refresh == "" {
		pair.Refresh = refresh
	}

	c.SetBearerToken(pair.Access)
	return pair, nil
}
