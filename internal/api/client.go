// Package api is the HTTP client for the remote story service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/storysync/internal/errors"
	"github.com/kimhsiao/storysync/internal/models"
)

const (
	// StoriesPath lists, reads and creates stories.
	StoriesPath = "/stories"
	// GuestStoryPath creates a story without authentication.
	GuestStoryPath = "/stories/guest"

	// IdempotencyHeader carries the client-generated key of a queued write.
	IdempotencyHeader = "Idempotency-Key"

	maxResponseBytes = 10 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds every request; exceeding it is a connectivity failure.
	Timeout   time.Duration
	UserAgent string
}

// TokenSource returns the current bearer token, or "" when signed out.
type TokenSource func() string

// Response is the service's response envelope.
type Response struct {
	Error     bool            `json:"error"`
	Message   string          `json:"message"`
	ListStory []*models.Story `json:"listStory,omitempty"`
	Story     *models.Story   `json:"story,omitempty"`
}

// ListParams filters a story listing. Zero values are omitted.
type ListParams struct {
	Page     int
	Size     int
	Location bool
}

// Upload is a create-story request.
type Upload struct {
	Description string
	Photo       []byte
	PhotoName   string
	Lat         *float64
	Lon         *float64
	// UseAuth selects the authenticated endpoint; false posts as guest.
	UseAuth        bool
	IdempotencyKey string
}

// Client talks to the story service. Transport failures and timeouts are
// returned as CONNECTIVITY_ERROR, non-success responses as SERVER_ERROR.
type Client struct {
	cfg        Config
	httpClient *http.Client
	token      TokenSource
}

// NewClient creates a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, token TokenSource, httpClient *http.Client) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = "storysync"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		token:      token,
	}
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// ListStories fetches a page of stories.
func (c *Client) ListStories(ctx context.Context, p ListParams) (*Response, error) {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Size > 0 {
		q.Set("size", strconv.Itoa(p.Size))
	}
	if p.Location {
		q.Set("location", "1")
	}

	req, err := c.newRequest(ctx, http.MethodGet, StoriesPath, q, nil, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.ListStory == nil {
		resp.ListStory = []*models.Story{}
	}
	return resp, nil
}

// GetStory fetches one story.
func (c *Client) GetStory(ctx context.Context, id string) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, StoriesPath+"/"+url.PathEscape(id), nil, nil, true)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// AddStory posts a story as multipart form data.
func (c *Client) AddStory(ctx context.Context, up Upload) (*Response, error) {
	body, contentType, err := encodeUpload(up)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode story", err)
	}

	path := StoriesPath
	if !up.UseAuth {
		path = GuestStoryPath
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, nil, body, up.UseAuth)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if up.IdempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, up.IdempotencyKey)
	}
	return c.do(req)
}

func encodeUpload(up Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("description", up.Description); err != nil {
		return nil, "", err
	}

	name := up.PhotoName
	if name == "" {
		name = "photo.jpg"
	}
	part, err := w.CreateFormFile("photo", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(up.Photo); err != nil {
		return nil, "", err
	}

	if up.Lat != nil && up.Lon != nil {
		if err := w.WriteField("lat", strconv.FormatFloat(*up.Lat, 'f', -1, 64)); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("lon", strconv.FormatFloat(*up.Lon, 'f', -1, 64)); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader, auth bool) (*http.Request, error) {
	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if auth {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// do sends req and decodes the envelope.
func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Connectivity(fmt.Sprintf("%s %s failed", req.Method, req.URL.Path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.Connectivity("failed to read response", err)
	}

	var out Response
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if msg == "" {
			msg = "Server error"
		}
		return nil, apperrors.Server(resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, apperrors.Server(resp.StatusCode, "invalid response from server")
	}
	if out.Error {
		msg := out.Message
		if msg == "" {
			msg = "Server error"
		}
		return nil, apperrors.Server(resp.StatusCode, msg)
	}
	return &out, nil
}
