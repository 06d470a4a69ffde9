package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/hn-pager/pkg/client"
	"github.com/Sternrassler/hn-pager/pkg/deadline"
	"github.com/Sternrassler/hn-pager/pkg/item"
	"github.com/Sternrassler/hn-pager/pkg/metrics"
	"github.com/Sternrassler/hn-pager/pkg/pagination"
	"github.com/Sternrassler/hn-pager/pkg/task"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type pageRunner = task.Runner[pagination.PageRequest, []item.Root, pagination.Partial]

type pageState = task.State[pagination.PageRequest, []item.Root, pagination.Partial]

type server struct {
	orch   *pagination.Orchestrator
	redis  *redis.Client
	logger zerolog.Logger
}

func newServer(orch *pagination.Orchestrator, redisClient *redis.Client, logger zerolog.Logger) *server {
	return &server{orch: orch, redis: redisClient, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /v1/listings/{kind}", s.listingHandler)
	return mux
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// itemView is the JSON form of a root item.
type itemView struct {
	ID    int64     `json:"id"`
	Type  item.Type `json:"type"`
	Title string    `json:"title"`
	Score int       `json:"score"`
	By    string    `json:"by,omitempty"`
	Time  time.Time `json:"time"`
	URL   string    `json:"url,omitempty"`
}

// slotView is the JSON form of one row of a page in progress.
type slotView struct {
	ID       int64  `json:"id"`
	Resolved bool   `json:"resolved"`
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
}

type pageResponse struct {
	Listing item.Listing `json:"listing"`
	Page    int          `json:"page"`
	Items   []itemView   `json:"items"`
}

// event is one NDJSON line of a streamed page.
type event struct {
	State string     `json:"state"`
	Epoch uint64     `json:"epoch"`
	Slots []slotView `json:"slots,omitempty"`
	Items []itemView `json:"items,omitempty"`
	Error string     `json:"error,omitempty"`
}

func viewOf(root item.Root) itemView {
	v := itemView{Title: root.Headline(), Score: root.Points()}
	if it, ok := root.(item.Item); ok {
		meta := it.Meta()
		v.ID, v.Type, v.By, v.Time = meta.ID, it.Type(), meta.By, meta.Time
	}
	switch r := root.(type) {
	case *item.Story:
		v.URL = r.URL
	case *item.Job:
		v.URL = r.URL
	}
	return v
}

func viewsOf(roots []item.Root) []itemView {
	views := make([]itemView, len(roots))
	for i, root := range roots {
		views[i] = viewOf(root)
	}
	return views
}

func slotsOf(p pagination.Partial) []slotView {
	views := make([]slotView, len(p))
	for i, slot := range p {
		views[i] = slotView{ID: slot.ID, Resolved: slot.Resolved()}
		if slot.Item != nil {
			views[i].Type = string(slot.Item.Type())
			if root, ok := item.AsRoot(slot.Item); ok {
				views[i].Title = root.Headline()
			}
		}
	}
	return views
}

// parseRequest reads the page request from the path and query.
func parseRequest(r *http.Request) (pagination.PageRequest, error) {
	var req pagination.PageRequest

	kind, err := item.ParseListing(r.PathValue("kind"))
	if err != nil {
		return req, err
	}
	req.Options.Listing = kind

	q := r.URL.Query()
	intParam := func(name string, dst *int) error {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid %s %q", name, v)
			}
			*dst = n
		}
		return nil
	}
	boolParam := func(name string, dst *bool) error {
		if v := q.Get(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q", name, v)
			}
			*dst = b
		}
		return nil
	}

	for _, err := range []error{
		intParam("page", &req.Page),
		intParam("size", &req.Options.PageSize),
		boolParam("forced", &req.Options.Forced),
		boolParam("slowly", &req.Options.Slowly),
	} {
		if err != nil {
			return req, err
		}
	}
	return req, nil
}

// statusFor maps a failed page to an HTTP status.
func statusFor(err error) int {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, deadline.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, task.ErrAborted):
		return http.StatusServiceUnavailable
	case errors.Is(err, pagination.ErrInvalidPage):
		return http.StatusBadRequest
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// listingHandler runs one page fetch per request. The run is tied to the
// request context, so a client that goes away aborts its fetches.
func (s *server) listingHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runner := task.New(s.orch.Producer(), task.Config{
		Name:    "listing",
		Logger:  &s.logger,
		Context: r.Context(),
	})
	defer runner.Close()

	if stream, _ := strconv.ParseBool(r.URL.Query().Get("stream")); stream {
		s.streamPage(w, r, runner, req)
		return
	}

	runner.Start(req)
	if _, err := runner.Wait(r.Context()); err != nil {
		return
	}

	runner.Match(task.Cases[[]item.Root, pagination.Partial]{
		OnDone: func(roots []item.Root) {
			writeJSON(w, http.StatusOK, pageResponse{
				Listing: req.Options.Listing,
				Page:    req.Page,
				Items:   viewsOf(roots),
			})
		},
		OnFailed: func(reason error, _ func()) {
			s.logger.Warn().Err(reason).Str("listing", string(req.Options.Listing)).Int("page", req.Page).Msg("Page request failed")
			http.Error(w, reason.Error(), statusFor(reason))
		},
		Default: func() {
			http.Error(w, "page fetch did not finish", http.StatusInternalServerError)
		},
	})
}

// streamPage writes one NDJSON line per observed state until the run ends.
func (s *server) streamPage(w http.ResponseWriter, r *http.Request, runner *pageRunner, req pagination.PageRequest) {
	size := req.Options.PageSize
	if size == 0 {
		size = 25
	}
	states := make(chan pageState, size+8)
	unwatch := runner.Watch(func(st pageState) {
		select {
		case states <- st:
		case <-r.Context().Done():
		}
	})
	defer unwatch()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	runner.Start(req)
	for {
		select {
		case <-r.Context().Done():
			return
		case st := <-states:
			ev := event{State: st.Kind.String(), Epoch: st.Epoch}
			switch st.Kind {
			case task.KindBusy:
				ev.Slots = slotsOf(*st.Status)
			case task.KindDone:
				ev.Items = viewsOf(st.Result)
			case task.KindFailed, task.KindAborted:
				ev.Error = st.Reason.Error()
			}
			if err := enc.Encode(ev); err != nil {
				s.logger.Debug().Err(err).Msg("Stream write failed")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			if st.Kind.Terminal() {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
