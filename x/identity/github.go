package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const defaultAPIBase = "https://api.github.com"

// User is the authenticated identity-provider account.
type User struct {
	ID    string
	Login string
	Name  string
}

// Thresholds are the minimum account stats required to contribute.
type Thresholds struct {
	MinRepos     int `mapstructure:"min_repos"     yaml:"min_repos"`
	MinFollowers int `mapstructure:"min_followers" yaml:"min_followers"`
	MinFollowing int `mapstructure:"min_following" yaml:"min_following"`
}

// Summary is the account's observed stats, reported alongside gate results.
type Summary struct {
	Repos     int
	Followers int
	Following int
}

// Meets reports whether the summary satisfies every threshold.
func (s Summary) Meets(th Thresholds) bool {
	return s.Repos >= th.MinRepos &&
		s.Followers >= th.MinFollowers &&
		s.Following >= th.MinFollowing
}

// Client talks to the GitHub API on behalf of the stored OAuth token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient builds a client around an OAuth token. An empty baseURL uses
// the public GitHub API.
func NewClient(token, baseURL string, log zerolog.Logger) (*Client, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	if baseURL == "" {
		baseURL = defaultAPIBase
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = 30 * time.Second

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log.With().Str("component", "identity-client").Logger(),
	}, nil
}

// User resolves the authenticated account.
func (c *Client) User(ctx context.Context) (User, error) {
	var raw struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := c.get(ctx, "/user", &raw); err != nil {
		return User{}, err
	}
	if raw.ID == 0 {
		return User{}, errors.New("identity: provider returned no user id")
	}
	return User{
		ID:    strconv.FormatInt(raw.ID, 10),
		Login: raw.Login,
		Name:  raw.Name,
	}, nil
}

// CheckReputation fetches the account stats and evaluates the thresholds.
func (c *Client) CheckReputation(ctx context.Context, th Thresholds) (bool, Summary, error) {
	var raw struct {
		PublicRepos int `json:"public_repos"`
		Followers   int `json:"followers"`
		Following   int `json:"following"`
	}
	if err := c.get(ctx, "/user", &raw); err != nil {
		return false, Summary{}, err
	}
	summary := Summary{Repos: raw.PublicRepos, Followers: raw.Followers, Following: raw.Following}
	return summary.Meets(th), summary, nil
}

// HasGistScope reports whether the token carries the gist scope needed to
// publish the attestation.
func (c *Client) HasGistScope(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return false, fmt.Errorf("identity: prepare scope check: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("identity: scope check: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	scopes := res.Header.Get("X-OAuth-Scopes")
	for _, scope := range strings.Split(scopes, ",") {
		if strings.TrimSpace(scope) == "gist" {
			return true, nil
		}
	}
	return false, nil
}

// PublishGist uploads a public text blob and returns its HTML URL.
func (c *Client) PublishGist(ctx context.Context, filename, description, content string) (string, error) {
	payload := map[string]any{
		"description": description,
		"public":      true,
		"files": map[string]any{
			filename: map[string]string{"content": content},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("identity: encode gist: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gists", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("identity: prepare gist request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity: publish gist: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("identity: gist publication returned %s: %s", res.Status, string(msg))
	}

	var out struct {
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("identity: decode gist response: %w", err)
	}
	if out.HTMLURL == "" {
		return "", errors.New("identity: gist response missing html_url")
	}

	c.log.Info().Str("url", out.HTMLURL).Msg("attestation gist published")
	return out.HTMLURL, nil
}

func (c *Client) get(ctx context.Context, p string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+p, nil)
	if err != nil {
		return fmt.Errorf("identity: prepare request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity: request %s: %w", p, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("identity: provider returned %s: %s", res.Status, string(msg))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("identity: decode %s response: %w", p, err)
	}
	return nil
}
