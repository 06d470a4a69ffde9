package main

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/hn-pager/internal/testutil"
	"github.com/Sternrassler/hn-pager/pkg/client"
	"github.com/Sternrassler/hn-pager/pkg/pagination"
	"github.com/Sternrassler/hn-pager/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// newTestServer wires the handler against a mock API with stories 1..n on
// the top listing.
func newTestServer(t *testing.T, n int64, mutate func(*pagination.Config)) (*httptest.Server, *testutil.MockHN) {
	t.Helper()

	mock := testutil.NewMockHN()
	t.Cleanup(mock.Close)

	ids := make([]int64, 0, n)
	for id := int64(1); id <= n; id++ {
		ids = append(ids, id)
		mock.SetStory(id, "story", int(id))
	}
	mock.SetListing("top", ids)

	cfg := client.DefaultConfig(nil, "hn-pager-test/1.0")
	cfg.BaseURL = mock.URL()
	cfg.RateLimit = ratelimit.Config{}
	cfg.InitialBackoff = time.Millisecond
	hnClient, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	pc := pagination.DefaultConfig()
	pc.Deadline = 2 * time.Second
	if mutate != nil {
		mutate(&pc)
	}
	orch := pagination.New(hnClient, nil, pc)

	srv := httptest.NewServer(newServer(orch, nil, zerolog.Nop()).routes())
	t.Cleanup(srv.Close)
	return srv, mock
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 0, nil)

	resp, body := get(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	if body != "OK" {
		t.Errorf("Body = %q, want OK", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 3, nil)

	get(t, srv.URL+"/v1/listings/top")
	resp, body := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	for _, name := range []string{"hn_requests_total", "task_runs_started_total", "hn_pagination_pages_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("Metrics missing %s", name)
		}
	}
}

func TestListingEndpoint(t *testing.T) {
	srv, mock := newTestServer(t, 5, nil)

	resp, body := get(t, srv.URL+"/v1/listings/top?page=1&size=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d, body %s", resp.StatusCode, body)
	}

	var page pageResponse
	if err := json.Unmarshal([]byte(body), &page); err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	if page.Listing != "top" || page.Page != 1 || len(page.Items) != 2 {
		t.Fatalf("Page = %+v", page)
	}
	if page.Items[0].ID != 3 || page.Items[1].ID != 4 || page.Items[0].Type != "story" {
		t.Errorf("Items = %+v", page.Items)
	}

	// Second request is served from the listing cache.
	get(t, srv.URL+"/v1/listings/top?page=2&size=2")
	if got := mock.GetPathCount("/v0/topstories.json"); got != 1 {
		t.Errorf("Listing fetched %d times, want 1", got)
	}

	get(t, srv.URL+"/v1/listings/topstories?forced=true&size=1")
	if got := mock.GetPathCount("/v0/topstories.json"); got != 2 {
		t.Errorf("Forced request should refetch, listing fetched %d times", got)
	}
}

func TestListingEndpoint_PastEnd(t *testing.T) {
	srv, _ := newTestServer(t, 3, nil)

	resp, body := get(t, srv.URL+"/v1/listings/top?page=4")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"items":[]`) {
		t.Errorf("Body = %s, want an empty items array", body)
	}
}

func TestListingEndpoint_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t, 1, nil)

	for _, path := range []string{
		"/v1/listings/hot",
		"/v1/listings/top?page=-1",
		"/v1/listings/top?size=abc",
		"/v1/listings/top?forced=maybe",
	} {
		t.Run(path, func(t *testing.T) {
			if resp, _ := get(t, srv.URL+path); resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestListingEndpoint_Timeout(t *testing.T) {
	srv, mock := newTestServer(t, 2, func(cfg *pagination.Config) { cfg.Deadline = 50 * time.Millisecond })
	mock.SetResponse("/v0/item/2.json", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       testutil.StoryJSON(2, "slow", 1),
		Delay:      time.Second,
	})

	resp, body := get(t, srv.URL+"/v1/listings/top")
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("Status = %d (%s), want 504", resp.StatusCode, body)
	}
}

func TestListingEndpoint_UpstreamError(t *testing.T) {
	srv, mock := newTestServer(t, 2, nil)
	mock.SetResponse("/v0/item/1.json", testutil.NewNotFoundResponse())

	if resp, _ := get(t, srv.URL+"/v1/listings/top"); resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", resp.StatusCode)
	}
}

func TestListingEndpoint_Stream(t *testing.T) {
	srv, _ := newTestServer(t, 3, nil)

	resp, err := http.Get(srv.URL + "/v1/listings/top?stream=1&size=3")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	var events []event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("Bad line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}

	var busy []event
	for _, ev := range events {
		if ev.State == "busy" {
			busy = append(busy, ev)
		}
	}
	if len(busy) != 4 {
		t.Fatalf("Busy events = %d, want 4 (ids, then one per item)", len(busy))
	}
	for _, slot := range busy[0].Slots {
		if slot.Resolved {
			t.Errorf("First partial should hold raw ids only: %+v", busy[0].Slots)
		}
	}
	for i, ev := range busy {
		resolved := 0
		for _, slot := range ev.Slots {
			if slot.Resolved {
				resolved++
			}
		}
		if resolved != i {
			t.Errorf("Busy event %d has %d resolved slots", i, resolved)
		}
	}

	last := events[len(events)-1]
	if last.State != "done" || len(last.Items) != 3 {
		t.Errorf("Last event = %+v, want done with 3 items", last)
	}
}
