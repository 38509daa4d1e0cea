// Package auth validates operator credentials for the management API,
// either against an external auth service or locally against a shared
// HS256 secret. Agent endpoints use their own token scheme and never
// pass through this package.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ValidateResponse is the identity attached to a validated token.
type ValidateResponse struct {
	Valid  bool     `json:"valid"`
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// Validator checks a bearer token and returns the caller identity.
type Validator interface {
	Validate(ctx context.Context, bearerToken string) (*ValidateResponse, error)
}

// Client validates tokens against an external auth service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a remote token validator.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *Client) Validate(ctx context.Context, bearerToken string) (*ValidateResponse, error) {
	if bearerToken == "" {
		return nil, fmt.Errorf("missing bearer token")
	}
	body, _ := json.Marshal(map[string]string{"token": bearerToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth validate returned %d", resp.StatusCode)
	}
	var vr ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, err
	}
	if !vr.Valid || vr.UserID == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return &vr, nil
}

// LocalValidator verifies HS256 tokens with a shared secret. Used when
// no external auth service is configured.
type LocalValidator struct {
	secret []byte
}

// NewLocalValidator creates a shared-secret token validator.
func NewLocalValidator(secret string) *LocalValidator {
	return &LocalValidator{secret: []byte(secret)}
}

func (v *LocalValidator) Validate(_ context.Context, bearerToken string) (*ValidateResponse, error) {
	if bearerToken == "" {
		return nil, fmt.Errorf("missing bearer token")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(bearerToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	var roles []string
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}
	return &ValidateResponse{Valid: true, UserID: sub, Roles: roles}, nil
}
