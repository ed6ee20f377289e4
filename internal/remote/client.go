// Package remote talks to the content calendar backend over HTTP.
//
// The client is best effort: every call returns an error instead of
// panicking, nothing is retried and nothing is queued for later.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appLog "contentcal/internal/log"
)

const (
	eventsPath = "/api/events"
	uploadPath = "/api/upload"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 16 << 20
)

// Client is a Remote Sync Client bound to one backend base URL.
type Client struct {
	baseURL string
	http    *http.Client

	mu       sync.Mutex
	etag     string
	lastBody []byte
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient returns a client for the backend at baseURL, for example
// "http://localhost:3000".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend base URL without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// ListEvents fetches every backend event. The last ETag is sent as
// If-None-Match and the previous body is reused on 304.
//
// On failure it returns an empty, non-nil slice together with the error.
func (c *Client) ListEvents(ctx context.Context) ([]Event, error) {
	events, err := c.listEvents(ctx)
	if err != nil {
		appLog.Error("remote list events failed", err, "base_url", c.baseURL)
		return []Event{}, err
	}
	return events, nil
}

func (c *Client) listEvents(ctx context.Context) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+eventsPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	etag, cached := c.etag, c.lastBody
	c.mu.Unlock()
	if etag != "" && len(cached) > 0 {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: list events: %w", err)
	}
	defer resp.Body.Close()

	var body []byte
	switch resp.StatusCode {
	case http.StatusOK:
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("remote: read events: %w", err)
		}
	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, errors.New("remote: 304 Not Modified without cached events")
		}
		appLog.Debug("remote events not modified; using cached body", "etag", etag)
		body = cached
	default:
		return nil, fmt.Errorf("remote: list events: %w", statusError(resp))
	}

	events, err := decodeEvents(body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		c.mu.Lock()
		c.etag = resp.Header.Get("ETag")
		c.lastBody = body
		c.mu.Unlock()
	}

	appLog.Debug("remote list events", "count", len(events), "status", resp.StatusCode)
	return events, nil
}

// decodeEvents decodes a JSON array of events one element at a time.
// Elements that do not decode are logged and skipped.
func decodeEvents(body []byte) ([]Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("remote: decode events: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for i, msg := range raw {
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			appLog.Error("remote event skipped; malformed", err, "index", i)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// CreateEvent posts in to the backend and returns the stored event.
func (c *Client) CreateEvent(ctx context.Context, in EventInput) (*Event, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+eventsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		appLog.Error("remote create event failed", err, "base_url", c.baseURL)
		return nil, fmt.Errorf("remote: create event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		appLog.Error("remote create event rejected", err, "status", resp.StatusCode)
		return nil, fmt.Errorf("remote: create event: %w", err)
	}

	var ev Event
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&ev); err != nil {
		return nil, fmt.Errorf("remote: decode created event: %w", err)
	}

	// The list body is stale now.
	c.mu.Lock()
	c.etag = ""
	c.mu.Unlock()

	appLog.Info("remote event created", "id", string(ev.ID), "date", in.Date)
	return &ev, nil
}

type uploadResponse struct {
	Message string        `json:"message"`
	Image   UploadedImage `json:"image"`
}

// UploadImage sends data as the multipart field "image". The returned URL
// is absolute.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (*UploadedImage, error) {
	ctype := ContentType(filename, data)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(filepath.Base(filename))))
	h.Set("Content-Type", ctype)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		appLog.Error("remote upload failed", err, "file", filename)
		return nil, fmt.Errorf("remote: upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		appLog.Error("remote upload rejected", err, "file", filename, "status", resp.StatusCode)
		return nil, fmt.Errorf("remote: upload %s: %w", filename, err)
	}

	var out uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("remote: decode upload response: %w", err)
	}
	if out.Image.URL == "" {
		return nil, errors.New("remote: upload response has no image url")
	}
	out.Image.URL = c.AbsoluteURL(out.Image.URL)

	appLog.Info("remote image uploaded", "file", filename, "url", out.Image.URL)
	return &out.Image, nil
}

// AbsoluteURL resolves a backend-relative path such as "/uploads/x.png"
// against the base URL. Absolute URLs are returned unchanged.
func (c *Client) AbsoluteURL(p string) string {
	if p == "" || strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") || strings.HasPrefix(p, "data:") {
		return p
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return c.baseURL + p
}

// ContentType guesses the media type of an upload from its extension,
// falling back to sniffing the content.
func ContentType(filename string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

type errorBody struct {
	Error string `json:"error"`
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, eb.Error)
	}
	return errors.New(resp.Status)
}
