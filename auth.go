package rosterly

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Auth
// ============================================================================

// AuthClient handles login, token refresh, and session inspection.
type AuthClient struct{ client *Client }

// Login exchanges credentials for a bearer token and installs it on the
// client.
func (a *AuthClient) Login(ctx context.Context, opts *LoginOptions) (*LoginData, error) {
	result, err := a.client.do(ctx, "POST", "/api/auth/login", opts, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("login rejected")
	}
	var login LoginData
	if err := result.Decode(&login); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if login.AccessToken != "" {
		a.client.SetToken(login.AccessToken)
	}
	return &login, nil
}

// Refresh exchanges a refresh token for a new access token and installs it.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (*LoginData, error) {
	result, err := a.client.do(ctx, "POST", "/api/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("refresh rejected")
	}
	var login LoginData
	if err := result.Decode(&login); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if login.AccessToken != "" {
		a.client.SetToken(login.AccessToken)
	}
	return &login, nil
}

// Logout invalidates the current session server-side.
func (a *AuthClient) Logout(ctx context.Context) (*Result, error) {
	return a.client.do(ctx, "POST", "/api/auth/logout", nil, nil)
}

// Me returns the authenticated user.
func (a *AuthClient) Me(ctx context.Context) (*Result, error) {
	return a.client.do(ctx, "GET", "/api/auth/me", nil, nil)
}

// ============================================================================
// Token inspection
// ============================================================================

// TokenExpiry extracts the expiry claim from a JWT access token without
// verifying its signature — the client has no key material; verification is
// the server's job.
func TokenExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return exp.Time, nil
}

// TokenExpiresWithin reports whether the token expires within d (or already
// has). A token without an expiry claim counts as expiring.
func TokenExpiresWithin(token string, d time.Duration) bool {
	exp, err := TokenExpiry(token)
	if err != nil {
		return true
	}
	return time.Until(exp) < d
}
