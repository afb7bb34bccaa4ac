package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/pow"
)

// apiEnvelope mirrors the server's resp.JSONResponse.
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type authResult struct {
	Token string       `json:"token"`
	User  user.Account `json:"user"`
}

type powChallenge struct {
	Nonce      string `json:"nonce"`
	Difficulty int    `json:"difficulty"`
}

type apiClient struct {
	base  *url.URL
	http  *http.Client
	token string
}

func newAPIClient(serverURL string, client *http.Client) (*apiClient, error) {
	base, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", serverURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &apiClient{base: base, http: client}, nil
}

// do calls the API and decodes data into out. A non-zero envelope code comes back as
// *errs.CustomError.
func (c *apiClient) do(ctx context.Context, method, path string, body any, header http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response (HTTP %d): %w", method, path, res.StatusCode, err)
	}

	if env.Code != 0 {
		return &errs.CustomError{Code: env.Code, Message: env.Message, Status: res.StatusCode}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

func (c *apiClient) login(ctx context.Context, username, password string) (authResult, error) {
	var out authResult
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, nil, &out)
	return out, err
}

// register solves the proof-of-work challenge first when the server asks for one.
func (c *apiClient) register(ctx context.Context, username, password string) (authResult, error) {
	var challenge powChallenge
	if err := c.do(ctx, http.MethodGet, "/api/pow/challenge", nil, nil, &challenge); err != nil {
		return authResult{}, err
	}

	var header http.Header
	if challenge.Difficulty > 0 {
		var proof struct {
			Token string `json:"token"`
		}
		if err := c.do(ctx, http.MethodPost, "/api/pow/verify", map[string]string{
			"nonce":   challenge.Nonce,
			"counter": pow.Solve(challenge.Nonce, challenge.Difficulty),
		}, nil, &proof); err != nil {
			return authResult{}, err
		}
		header = http.Header{pow.TokenHeaderKey: []string{proof.Token}}
	}

	var out authResult
	err := c.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"username": username,
		"password": password,
	}, header, &out)
	return out, err
}

// wsURL is the WebSocket endpoint carrying the identity token.
func (c *apiClient) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": []string{c.token}}.Encode()
	return u.String()
}
