package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	appLog "contentcal/internal/log"
)

const maxFeedBytes = 32 << 20

var feedClient = &http.Client{Timeout: 15 * time.Second}

// Read loads a feed from an http(s) URL or a local file path.
func Read(ctx context.Context, location string) (Source, []byte, error) {
	src := Source{ID: location, URL: location}
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		src.URL = ""
		body, err := os.ReadFile(location)
		if err != nil {
			return src, nil, fmt.Errorf("ics: read %s: %w", location, err)
		}
		return src, body, nil
	}

	src.ID = redactURL(location)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return src, nil, err
	}
	req.Header.Set("Accept", "text/calendar")

	appLog.Info("ics fetch start", "url", redactURL(location))
	resp, err := feedClient.Do(req)
	if err != nil {
		return src, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return src, nil, errors.New(resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return src, nil, err
	}
	appLog.Info("ics fetch success", "url", redactURL(location), "bytes", len(body))
	return src, body, nil
}

// redactURL keeps only scheme and host of a feed URL; private feed paths
// often embed tokens.
func redactURL(u string) string {
	if u == "" {
		return ""
	}
	i := strings.Index(u, "://")
	if i < 0 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}
