// Package applications provides a client for the job application REST API:
// the application detail shown in the interview header and the stored
// transcript.
package applications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrApplicationNotFound = errors.New("application not found")
	ErrUnauthorized        = errors.New("not authorized")
)

// Client talks to {BaseURL}/applications.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// Options configures a Client. Timeout defaults to 10s when HTTPClient is nil.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func New(opts Options) (*Client, error) {
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    hc,
		log:     log,
	}, nil
}

// Get fetches one application.
func (c *Client) Get(ctx context.Context, id string) (*Application, error) {
	var app Application
	if err := c.getJSON(ctx, "/applications/"+url.PathEscape(id), &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// Transcript fetches the stored interview messages in order.
func (c *Client) Transcript(ctx context.Context, id string) (*Transcript, error) {
	var tr Transcript
	if err := c.getJSON(ctx, "/applications/"+url.PathEscape(id)+"/transcript", &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Warn("Application API error",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return decodeError(resp.StatusCode, path, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns a non-2xx body into an *ErrorResponse. Problem details
// and the backend's {"detail": ...} bodies both decode; anything else keeps
// the raw body as the detail.
func decodeError(status int, instance string, body []byte) error {
	e := &ErrorResponse{}
	if err := json.Unmarshal(body, e); err != nil || (e.Title == "" && e.Detail == "") {
		e = &ErrorResponse{Detail: strings.TrimSpace(string(body))}
	}
	if e.Status == 0 {
		e.Status = status
	}
	if e.Title == "" {
		e.Title = http.StatusText(status)
	}
	if e.Instance == "" {
		e.Instance = instance
	}
	return e
}
