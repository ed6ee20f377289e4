package web

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentcal/internal/auth"
	"contentcal/internal/config"
	"contentcal/internal/model"
	"contentcal/internal/store"
)

// Smallest valid PNG: 1x1, transparent.
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.DatabasePath = filepath.Join(dir, "events.db")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Normalize()

	st, err := store.Open(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := NewServer(cfg, st)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func multipartBody(t *testing.T, field, filename, ctype string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", ctype)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	res, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCreateAndListEvents(t *testing.T) {
	_, ts := newTestServer(t, nil)

	res := postJSON(t, ts.URL+"/api/events", map[string]string{
		"title":       "Launch",
		"date":        "2024-03-15",
		"description": "big day",
		"imageUrl":    "/uploads/a.png",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var created model.Event
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, "Launch", created.Title)
	assert.True(t, created.Date.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))

	res = postJSON(t, ts.URL+"/api/events", map[string]string{
		"date": "2024-03-01T09:30:00Z",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)

	get, err := http.Get(ts.URL + "/api/events")
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	assert.NotEmpty(t, get.Header.Get("ETag"))
	assert.Equal(t, "*", get.Header.Get("Access-Control-Allow-Origin"))

	var events []model.Event
	require.NoError(t, json.NewDecoder(get.Body).Decode(&events))
	require.Len(t, events, 2)
	assert.Equal(t, "Untitled event", events[0].Title)
	assert.Equal(t, "Launch", events[1].Title)
	assert.Equal(t, "/uploads/a.png", events[1].ImageURL)
}

func TestListEventsHonorsIfNoneMatch(t *testing.T) {
	_, ts := newTestServer(t, nil)
	postJSON(t, ts.URL+"/api/events", map[string]string{"title": "a", "date": "2024-01-02"})

	first, err := http.Get(ts.URL + "/api/events")
	require.NoError(t, err)
	first.Body.Close()
	etag := first.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotModified, res.StatusCode)

	// A create invalidates the cached body and its tag.
	postJSON(t, ts.URL+"/api/events", map[string]string{"title": "b", "date": "2024-01-03"})
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEqual(t, etag, res.Header.Get("ETag"))
}

func TestCreateEventRejectsBadInput(t *testing.T) {
	_, ts := newTestServer(t, nil)

	for name, body := range map[string]any{
		"missing date": map[string]string{"title": "x"},
		"bad date":     map[string]string{"title": "x", "date": "15/03/2024"},
		"not json":     "nope",
	} {
		t.Run(name, func(t *testing.T) {
			var res *http.Response
			if s, ok := body.(string); ok {
				r, err := http.Post(ts.URL+"/api/events", "application/json", strings.NewReader(s))
				require.NoError(t, err)
				defer r.Body.Close()
				res = r
			} else {
				res = postJSON(t, ts.URL+"/api/events", body)
			}
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			var e struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.NewDecoder(res.Body).Decode(&e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestUploadStoresAndServesImage(t *testing.T) {
	s, ts := newTestServer(t, nil)

	body, ctype := multipartBody(t, "image", "Photo.PNG", "image/png", pngPixel)
	res, err := http.Post(ts.URL+"/api/upload", ctype, body)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var out uploadResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Equal(t, "Image uploaded successfully", out.Message)
	assert.NotZero(t, out.Image.ID)
	assert.Regexp(t, `^image-\d+-\d+\.png$`, out.Image.Filename)
	assert.Equal(t, "/uploads/"+out.Image.Filename, out.Image.URL)

	onDisk, err := os.ReadFile(filepath.Join(s.cfg.UploadDir, out.Image.Filename))
	require.NoError(t, err)
	assert.Equal(t, pngPixel, onDisk)

	img, err := http.Get(ts.URL + out.Image.URL)
	require.NoError(t, err)
	defer img.Body.Close()
	assert.Equal(t, http.StatusOK, img.StatusCode)
	assert.Equal(t, "image/png", img.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=86400", img.Header.Get("Cache-Control"))
	assert.Equal(t, "nosniff", img.Header.Get("X-Content-Type-Options"))
}

func TestUploadRejections(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) { c.MaxUploadMB = 1 })

	t.Run("missing field", func(t *testing.T) {
		body, ctype := multipartBody(t, "file", "a.png", "image/png", pngPixel)
		res, err := http.Post(ts.URL+"/api/upload", ctype, body)
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("not an image", func(t *testing.T) {
		body, ctype := multipartBody(t, "image", "notes.txt", "text/plain", []byte("hello"))
		res, err := http.Post(ts.URL+"/api/upload", ctype, body)
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("svg", func(t *testing.T) {
		svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`)
		body, ctype := multipartBody(t, "image", "x.svg", "image/svg+xml", svg)
		res, err := http.Post(ts.URL+"/api/upload", ctype, body)
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("too large", func(t *testing.T) {
		big := append(append([]byte{}, pngPixel...), make([]byte, 1<<20+10<<10)...)
		body, ctype := multipartBody(t, "image", "big.png", "image/png", big)
		res, err := http.Post(ts.URL+"/api/upload", ctype, body)
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestUploadsServesUnknownTypesAsAttachment(t *testing.T) {
	s, ts := newTestServer(t, nil)
	require.NoError(t, os.MkdirAll(s.cfg.UploadDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.UploadDir, "old.svg"), []byte("<svg/>"), 0o644))

	res, err := http.Get(ts.URL + "/uploads/old.svg")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/octet-stream", res.Header.Get("Content-Type"))
	assert.Equal(t, "attachment", res.Header.Get("Content-Disposition"))
}

func TestUploadsRefusesTraversalAndMissing(t *testing.T) {
	_, ts := newTestServer(t, nil)

	for _, p := range []string{"/uploads/", "/uploads/missing.png", "/uploads/.hidden"} {
		res, err := http.Get(ts.URL + p)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode, p)
	}
}

func TestPreflightAndIndex(t *testing.T) {
	_, ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Contains(t, res.Header.Get("Access-Control-Allow-Headers"), "If-None-Match")

	res, err = http.Get(ts.URL + "/api")
	require.NoError(t, err)
	defer res.Body.Close()
	var idx indexResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&idx))
	assert.Equal(t, "POST /api/upload", idx.Endpoints["upload"])

	res, err = http.Get(ts.URL + "/api/nope")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestStaticUI(t *testing.T) {
	_, ts := newTestServer(t, nil)

	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "/api/events")
}

func TestEventsICS(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.Config) { c.PublicBaseURL = "https://cal.example.com/" })
	postJSON(t, ts.URL+"/api/events", map[string]string{
		"title": "Launch", "date": "2024-03-15", "imageUrl": "/uploads/a.png",
	})

	res, err := http.Get(ts.URL + "/api/events.ics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/calendar")

	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	body := buf.String()
	assert.Contains(t, body, "SUMMARY:Launch")
	assert.Contains(t, body, "20240315")
	assert.Contains(t, body, "https://cal.example.com/uploads/a.png")
}

func TestBasicAuth(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)

	for name, ba := range map[string]*config.BasicAuthConfig{
		"plain":  {Username: "me", Password: "s3cret"},
		"hashed": {Username: "me", PasswordHash: hash},
	} {
		t.Run(name, func(t *testing.T) {
			_, ts := newTestServer(t, func(c *config.Config) { c.BasicAuth = ba })

			res, err := http.Get(ts.URL + "/health")
			require.NoError(t, err)
			res.Body.Close()
			assert.Equal(t, http.StatusOK, res.StatusCode)

			res, err = http.Get(ts.URL + "/api/events")
			require.NoError(t, err)
			res.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
			assert.NotEmpty(t, res.Header.Get("WWW-Authenticate"))

			for _, pw := range []string{"wrong", "s3cret", "s3cret"} {
				req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/events", nil)
				require.NoError(t, err)
				req.SetBasicAuth("me", pw)
				res, err := http.DefaultClient.Do(req)
				require.NoError(t, err)
				res.Body.Close()
				if pw == "wrong" {
					assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
				} else {
					assert.Equal(t, http.StatusOK, res.StatusCode)
				}
			}
		})
	}
}

func TestUploadName(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Regexp(t, `^image-1700000000123-\d{1,9}\.jpg$`, uploadName("x.JPG", now))
	assert.Regexp(t, `^image-1700000000123-\d{1,9}$`, uploadName("x.exe", now))
	assert.Regexp(t, `^image-1700000000123-\d{1,9}$`, uploadName("x.svg", now))
}

func TestEtagMatches(t *testing.T) {
	assert.True(t, etagMatches(`"a", "b"`, `"b"`))
	assert.True(t, etagMatches(`W/"b"`, `"b"`))
	assert.True(t, etagMatches(`*`, `"b"`))
	assert.False(t, etagMatches(``, `"b"`))
	assert.False(t, etagMatches(`"c"`, `"b"`))
}
