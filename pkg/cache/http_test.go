package cache

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestResponseToEntry(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header: http.Header{
			"Etag":          []string{`"abc123"`},
			"Content-Type":  []string{"application/json"},
			"Cache-Control": []string{"no-cache"},
		},
		Body: io.NopCloser(bytes.NewReader([]byte(`{"id":8863}`))),
	}

	entry, err := ResponseToEntry(resp, 10*time.Minute)
	if err != nil {
		t.Fatalf("ResponseToEntry() error = %v", err)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"id":8863}` {
		t.Errorf("Response body was not restored, got %q", body)
	}
	if string(entry.Data) != `{"id":8863}` {
		t.Errorf("Data = %q", entry.Data)
	}
	if entry.ETag != `"abc123"` {
		t.Errorf("ETag = %q", entry.ETag)
	}
	if entry.ContentType != "application/json" {
		t.Errorf("ContentType = %q", entry.ContentType)
	}
	if ttl := entry.TTL(); ttl < 9*time.Minute || ttl > 10*time.Minute {
		t.Errorf("TTL = %v, want fallback of 10m", ttl)
	}
}

func TestResponseToEntry_Nil(t *testing.T) {
	if _, err := ResponseToEntry(nil, 0); err == nil {
		t.Error("ResponseToEntry(nil) should fail")
	}
}

func TestParseExpires(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		headers http.Header
		want    time.Duration
	}{
		{
			name:    "max-age wins",
			headers: http.Header{"Cache-Control": []string{"public, max-age=60"}, "Expires": []string{now.Add(time.Hour).Format(http.TimeFormat)}},
			want:    time.Minute,
		},
		{
			name:    "expires header",
			headers: http.Header{"Expires": []string{now.Add(time.Hour).Format(http.TimeFormat)}},
			want:    time.Hour,
		},
		{
			name:    "expires in the past falls back",
			headers: http.Header{"Expires": []string{now.Add(-time.Hour).Format(http.TimeFormat)}},
			want:    DefaultTTL,
		},
		{
			name:    "invalid expires falls back",
			headers: http.Header{"Expires": []string{"not a date"}},
			want:    DefaultTTL,
		},
		{
			name:    "no-cache falls back",
			headers: http.Header{"Cache-Control": []string{"no-cache"}},
			want:    DefaultTTL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseExpires(tt.headers, DefaultTTL).Sub(now)
			if diff := got - tt.want; diff < -2*time.Second || diff > 2*time.Second {
				t.Errorf("parseExpires() = now+%v, want now+%v", got, tt.want)
			}
		})
	}
}

func TestEntryToResponse(t *testing.T) {
	entry := &Entry{Data: []byte(`{"id":1}`), ETag: `"e"`, ContentType: "application/json"}
	resp := EntryToResponse(entry)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Cache") != "HIT" {
		t.Error("X-Cache header should be HIT")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"id":1}` {
		t.Errorf("Body = %q", body)
	}
}

func TestConditionalHeaders(t *testing.T) {
	if ShouldMakeConditionalRequest(nil) {
		t.Error("nil entry should not be conditional")
	}
	if ShouldMakeConditionalRequest(&Entry{}) {
		t.Error("entry without ETag should not be conditional")
	}

	entry := &Entry{ETag: `"v1"`}
	if !ShouldMakeConditionalRequest(entry) {
		t.Fatal("entry with ETag should be conditional")
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/v0/item/1.json", nil)
	AddConditionalHeaders(req, entry)
	if got := req.Header.Get("If-None-Match"); got != `"v1"` {
		t.Errorf("If-None-Match = %q", got)
	}
}
