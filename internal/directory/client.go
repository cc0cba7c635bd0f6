// Package directory is the HTTP client for the external user directory,
// which owns user accounts (role, organization, school, active flag,
// explicit grants) and problem ownership facts. The security core only ever
// reads from it.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lektio/lektio/internal/security"
)

// ErrNotFound is returned when the directory has no matching record.
var ErrNotFound = errors.New("directory: not found")

// Client talks to the directory service. All calls are bounded by the
// configured timeout on top of any caller deadline.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New creates a new Client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Credential is a user record including the password hash, used only by the
// login flow.
type Credential struct {
	User         security.User `json:"user"`
	PasswordHash string        `json:"password_hash"`
}

// ResolveUser fetches the user record for session-context construction.
func (c *Client) ResolveUser(ctx context.Context, tenantID, userID string) (security.User, error) {
	var user security.User
	path := fmt.Sprintf("/tenants/%s/users/%s", url.PathEscape(tenantID), url.PathEscape(userID))
	if err := c.get(ctx, path, &user); err != nil {
		return security.User{}, err
	}
	return user, nil
}

// GetUserByEmail fetches the login credential record for an email address.
func (c *Client) GetUserByEmail(ctx context.Context, tenantID, email string) (Credential, error) {
	var cred Credential
	path := fmt.Sprintf("/tenants/%s/users?email=%s", url.PathEscape(tenantID), url.QueryEscape(email))
	if err := c.get(ctx, path, &cred); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// UserOrganization resolves a user's organization id.
func (c *Client) UserOrganization(ctx context.Context, tenantID, userID string) (string, error) {
	user, err := c.ResolveUser(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	return user.OrgID, nil
}

type problemRecord struct {
	ID        string `json:"id"`
	TeacherID string `json:"teacher_id"`
	Active    bool   `json:"active"`
}

// ProblemOwner resolves the teacher owning a problem.
func (c *Client) ProblemOwner(ctx context.Context, tenantID, problemID string) (string, error) {
	var p problemRecord
	path := fmt.Sprintf("/tenants/%s/problems/%s", url.PathEscape(tenantID), url.PathEscape(problemID))
	if err := c.get(ctx, path, &p); err != nil {
		return "", err
	}
	return p.TeacherID, nil
}

// ProblemActiveForStudent reports whether the problem is currently assigned
// and active for the student.
func (c *Client) ProblemActiveForStudent(ctx context.Context, tenantID, problemID, studentID string) (bool, error) {
	var out struct {
		Active bool `json:"active"`
	}
	path := fmt.Sprintf("/tenants/%s/problems/%s/availability?student_id=%s",
		url.PathEscape(tenantID), url.PathEscape(problemID), url.QueryEscape(studentID))
	if err := c.get(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Active, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
