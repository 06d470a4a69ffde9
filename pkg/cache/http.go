package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when the caller supplies none.
	DefaultTTL = 5 * time.Minute
)

// ResponseToEntry converts an HTTP response to an Entry. The body is read
// and restored for the caller.
//
// Expiry comes from Cache-Control max-age, then Expires, then fallback
// (DefaultTTL when fallback is zero). The API answers no-cache for every
// resource, so in practice the fallback decides.
func ResponseToEntry(resp *http.Response, fallback time.Duration) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if fallback <= 0 {
		fallback = DefaultTTL
	}

	return &Entry{
		Data:        body,
		ETag:        resp.Header.Get("ETag"),
		Expires:     parseExpires(resp.Header, fallback),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		CachedAt:    time.Now(),
	}, nil
}

// EntryToResponse builds a synthetic 200 response from a cached entry.
func EntryToResponse(entry *Entry) *http.Response {
	header := http.Header{}
	if entry.ContentType != "" {
		header.Set("Content-Type", entry.ContentType)
	}
	if entry.ETag != "" {
		header.Set("ETag", entry.ETag)
	}
	header.Set("X-Cache", "HIT")

	status := entry.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
	}
}

func parseExpires(headers http.Header, fallback time.Duration) time.Time {
	now := time.Now()

	if cc := headers.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.TrimSpace(strings.ToLower(directive))
			if v, ok := strings.CutPrefix(directive, "max-age="); ok {
				if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
					return now.Add(time.Duration(secs) * time.Second)
				}
			}
		}
	}

	if expiresStr := headers.Get("Expires"); expiresStr != "" {
		if expires, err := http.ParseTime(expiresStr); err == nil && expires.After(now) {
			return expires
		}
	}

	return now.Add(fallback)
}

// ShouldMakeConditionalRequest reports whether entry carries an ETag.
func ShouldMakeConditionalRequest(entry *Entry) bool {
	return entry != nil && entry.ETag != ""
}

// AddConditionalHeaders adds If-None-Match for entry's ETag.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil || entry.ETag == "" {
		return
	}
	req.Header.Set("If-None-Match", entry.ETag)
}
