package api_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/okian/feedtrace/internal/adapters/http/api"
	"github.com/okian/feedtrace/internal/adapters/repository"
	service "github.com/okian/feedtrace/internal/app"
	"github.com/okian/feedtrace/internal/domain/dwell"
	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/internal/domain/normalize"
	"github.com/okian/feedtrace/internal/domain/participant"
	"github.com/okian/feedtrace/internal/domain/roster"
	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/internal/domain/visibility"
	"github.com/okian/feedtrace/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// mockDependencies records what the handlers pass through and returns
// canned results.
type mockDependencies struct {
	mu sync.Mutex

	openErr  error
	opened   []service.OpenRequest
	seen     map[string]bool
	ackErr   error
	batches  [][]event.Event
	beacons  []string
	dwell    []dwell.Record
	dwellErr error
	row      *participant.Row

	summary   roster.Summary
	table     normalize.Table
	detail    service.RowDetail
	detailErr error
	imported  []types.FlatRow
	importErr error
	names     map[string]string
}

func newMockDependencies() *mockDependencies {
	return &mockDependencies{seen: map[string]bool{}, names: map[string]string{}}
}

func (m *mockDependencies) OpenSession(_ context.Context, req service.OpenRequest) (service.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return service.SessionInfo{}, m.openErr
	}
	if req.Scope.ProjectID == "" {
		return service.SessionInfo{}, service.ErrInvalidScope
	}
	m.opened = append(m.opened, req)
	id := req.SessionID
	if id == "" {
		id = "generated"
	}
	return service.SessionInfo{SessionID: id, Scope: req.Scope}, nil
}

func (m *mockDependencies) AppendBatch(_ context.Context, sessionID, batchID string, events []event.Event) (service.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ackErr != nil {
		return service.Ack{}, m.ackErr
	}
	if sessionID == "missing" {
		return service.Ack{}, fmt.Errorf("append: %w", repository.ErrSessionNotFound)
	}
	key := sessionID + "/" + batchID
	if m.seen[key] {
		return service.Ack{BatchID: batchID, Duplicate: true}, nil
	}
	m.seen[key] = true
	m.batches = append(m.batches, events)
	return service.Ack{BatchID: batchID, Accepted: len(events)}, nil
}

func (m *mockDependencies) Beacon(_ context.Context, sessionID, _ string, _ []event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beacons = append(m.beacons, sessionID)
}

func (m *mockDependencies) Dwell(context.Context, string) ([]dwell.Record, error) {
	return m.dwell, m.dwellErr
}

func (m *mockDependencies) SessionRow(_ context.Context, id string) (participant.Row, error) {
	if m.row == nil {
		return participant.Row{}, fmt.Errorf("row of %s: %w", id, repository.ErrNotFound)
	}
	return *m.row, nil
}

func (m *mockDependencies) Summary(_ context.Context, p, f string) (roster.Summary, error) {
	if p == "" || f == "" {
		return roster.Summary{}, service.ErrInvalidScope
	}
	return m.summary, nil
}

func (m *mockDependencies) Export(context.Context, string, string) (normalize.Table, error) {
	return m.table, nil
}

func (m *mockDependencies) RowDetail(context.Context, string, string, string) (service.RowDetail, error) {
	return m.detail, m.detailErr
}

func (m *mockDependencies) ImportRows(_ context.Context, _, _ string, rows []types.FlatRow) (int, error) {
	if m.importErr != nil {
		return 0, m.importErr
	}
	m.imported = append(m.imported, rows...)
	return len(rows), nil
}

func (m *mockDependencies) SetPostName(_ context.Context, p, f, post, name string) error {
	m.names[p+"/"+f+"/"+post] = name
	return nil
}

func (m *mockDependencies) Visibility() service.VisibilityConfig {
	return service.VisibilityConfig{Thresholds: visibility.DefaultThresholds, ChromeTopPx: 56}
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps *mockDependencies, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, opts...).Register(mux)
	return mux
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

const batchBody = `{
	"batch_id": "b1",
	"events": [
		{"action": "vp_enter", "post_id": "A", "ts_ms": 1000, "timestamp_iso": "1970-01-01T00:00:01.000Z", "session_id": "s1", "vis_frac": 0.7, "post_h_px": 400, "viewport_h_px": 900},
		{"action": "react_pick", "post_id": "A", "ts_ms": 1500, "timestamp_iso": "1970-01-01T00:00:01.500Z", "session_id": "s1", "type": "like"}
	]
}`

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := newMockDependencies()
		mux := newMux(deps)

		Convey("Then health, stats and visibility respond", func() {
			So(do(mux, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)

			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["started"], ShouldEqual, true)

			w = do(mux, http.MethodGet, "/visibility", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decodeBody(w)
			So(body["chrome_top_px"], ShouldEqual, 56.0)
		})

		Convey("Then metrics are exposed in the Prometheus format", func() {
			do(mux, http.MethodGet, "/healthz", "")
			w := do(mux, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("Then unknown paths and wrong methods are rejected", func() {
			So(do(mux, http.MethodGet, "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodGet, "/sessions", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
			So(do(mux, http.MethodDelete, "/stats", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestSessionsHandler(t *testing.T) {
	Convey("Given the sessions endpoints", t, func() {
		deps := newMockDependencies()
		mux := newMux(deps)

		Convey("When a session is opened", func() {
			w := do(mux, http.MethodPost, "/sessions",
				`{"session_id":"s1","scope":{"project_id":"p1","feed_id":"f1"},"feed":{"id":"f1","posts":[{"id":"A","has_media":true}]}}`)

			Convey("Then it is created with the request's feed", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(decodeBody(w)["session_id"], ShouldEqual, "s1")
				So(len(deps.opened), ShouldEqual, 1)
				So(deps.opened[0].Feed.Posts[0].HasMedia, ShouldBeTrue)
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(mux, http.MethodPost, "/sessions", `{nope`)
			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody(w)["code"], ShouldEqual, "bad_request")
			})
		})

		Convey("When the scope is missing", func() {
			w := do(mux, http.MethodPost, "/sessions", `{"session_id":"s1"}`)
			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the session id is taken", func() {
			deps.openErr = fmt.Errorf("open: %w", repository.ErrSessionExists)
			w := do(mux, http.MethodPost, "/sessions", `{"scope":{"project_id":"p","feed_id":"f"}}`)
			Convey("Then it conflicts", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
			})
		})

		Convey("When the service is not started", func() {
			deps.openErr = service.ErrNotStarted
			w := do(mux, http.MethodPost, "/sessions", `{"scope":{"project_id":"p","feed_id":"f"}}`)
			Convey("Then it is unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When live dwell is requested", func() {
			deps.dwell = []dwell.Record{{PostID: "A", DwellMS: 2600, DwellS: 2.6, Visits: 1}}
			w := do(mux, http.MethodGet, "/sessions/s1/dwell", "")

			Convey("Then the records are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decodeBody(w)
				So(body["session_id"], ShouldEqual, "s1")
				posts := body["posts"].([]any)
				So(len(posts), ShouldEqual, 1)
				So(posts[0].(map[string]any)["dwell_ms"], ShouldEqual, 2600.0)
			})
		})

		Convey("When dwell is requested for an unknown session", func() {
			deps.dwellErr = fmt.Errorf("dwell: %w", repository.ErrSessionNotFound)
			w := do(mux, http.MethodGet, "/sessions/nope/dwell", "")
			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the row of a session that has not submitted is requested", func() {
			w := do(mux, http.MethodGet, "/sessions/s1/row", "")
			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestEventsHandler(t *testing.T) {
	Convey("Given the events endpoint", t, func() {
		deps := newMockDependencies()
		mux := newMux(deps)

		Convey("When a valid batch is posted", func() {
			w := do(mux, http.MethodPost, "/sessions/s1/events", batchBody)

			Convey("Then it is accepted and decoded into typed payloads", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				body := decodeBody(w)
				So(body["status"], ShouldEqual, "accepted")
				So(body["accepted"], ShouldEqual, 2.0)
				So(len(deps.batches), ShouldEqual, 1)
				vis, ok := deps.batches[0][0].Visibility()
				So(ok, ShouldBeTrue)
				So(vis.VisFrac, ShouldEqual, 0.7)
				pick, ok := deps.batches[0][1].Payload.(*event.ReactPick)
				So(ok, ShouldBeTrue)
				So(pick.Type, ShouldEqual, "like")
			})

			Convey("And the same batch is posted again", func() {
				w := do(mux, http.MethodPost, "/sessions/s1/events", batchBody)

				Convey("Then it is acknowledged as a duplicate", func() {
					So(w.Code, ShouldEqual, http.StatusOK)
					So(decodeBody(w)["status"], ShouldEqual, "duplicate")
					So(len(deps.batches), ShouldEqual, 1)
				})
			})
		})

		Convey("When the batch id is missing", func() {
			w := do(mux, http.MethodPost, "/sessions/s1/events", `{"events":[]}`)
			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody(w)["message"], ShouldContainSubstring, "batch_id")
			})
		})

		Convey("When the session is unknown", func() {
			w := do(mux, http.MethodPost, "/sessions/missing/events", batchBody)
			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the shard queue is full", func() {
			deps.ackErr = service.ErrBackpressure
			w := do(mux, http.MethodPost, "/sessions/s1/events", batchBody)
			Convey("Then the client is told to back off", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(decodeBody(w)["code"], ShouldEqual, "backpressure")
			})
		})

		Convey("When the body exceeds the limit", func() {
			small := newMux(deps, api.WithMaxBodyBytes(16))
			w := do(small, http.MethodPost, "/sessions/s1/events", batchBody)
			Convey("Then it is too large", func() {
				So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			})
		})

		Convey("When a beacon arrives", func() {
			ok := do(mux, http.MethodPost, "/sessions/s1/beacon", batchBody)
			bad := do(mux, http.MethodPost, "/sessions/s1/beacon", `garbage`)

			Convey("Then every outcome is 204 and only parsed beacons reach the service", func() {
				So(ok.Code, ShouldEqual, http.StatusNoContent)
				So(bad.Code, ShouldEqual, http.StatusNoContent)
				So(deps.beacons, ShouldResemble, []string{"s1"})
			})
		})
	})
}

func TestAnalyticsHandler(t *testing.T) {
	Convey("Given the analytics endpoints", t, func() {
		deps := newMockDependencies()
		mux := newMux(deps)
		rate := 0.5
		deps.summary = roster.Summary{
			Counts:  roster.Counts{Total: 2, Completed: 1, CompletionRate: &rate},
			PerPost: map[string]roster.PostStats{"A": {Reacted: 1}},
		}
		deps.table = normalize.Table{
			Header:  []string{"session_id", "Vaccine_reacted"},
			Keys:    []string{"session_id", "A_reacted"},
			Records: [][]string{{"s1", "1"}, {"s2", ""}},
		}

		Convey("When the summary is requested", func() {
			w := do(mux, http.MethodGet, "/projects/p1/feeds/f1/summary", "")
			Convey("Then it is returned as JSON", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				counts := decodeBody(w)["counts"].(map[string]any)
				So(counts["completionRate"], ShouldEqual, 0.5)
			})
		})

		Convey("When a CSV export is requested", func() {
			w := do(mux, http.MethodGet, "/projects/p1/feeds/f1/export", "")

			Convey("Then a spreadsheet-ready CSV is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldStartWith, "text/csv")
				So(w.Header().Get("Content-Disposition"), ShouldContainSubstring, "p1_f1.csv")
				records, err := csv.NewReader(w.Body).ReadAll()
				So(err, ShouldBeNil)
				So(records, ShouldResemble, [][]string{
					{"session_id", "Vaccine_reacted"},
					{"s1", "1"},
					{"s2", ""},
				})
			})
		})

		Convey("When a JSON export is requested", func() {
			w := do(mux, http.MethodGet, "/projects/p1/feeds/f1/export?format=json", "")
			Convey("Then header and keys are both present", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decodeBody(w)
				So(body["keys"], ShouldResemble, []any{"session_id", "A_reacted"})
				So(body["header"], ShouldResemble, []any{"session_id", "Vaccine_reacted"})
			})
		})

		Convey("When an unknown format is requested", func() {
			w := do(mux, http.MethodGet, "/projects/p1/feeds/f1/export?format=xlsx", "")
			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When a row detail is requested", func() {
			deps.detail = service.RowDetail{SessionID: "s1", Issues: []string{"posts_json: malformed roster row"}}
			w := do(mux, http.MethodGet, "/projects/p1/feeds/f1/rows/s1", "")
			Convey("Then it carries the recovered issues", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["issues"], ShouldResemble, []any{"posts_json: malformed roster row"})
			})
		})

		Convey("When a missing row is requested", func() {
			deps.detailErr = fmt.Errorf("row: %w", repository.ErrNotFound)
			w := do(mux, http.MethodGet, "/projects/p1/feeds/f1/rows/zz", "")
			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When rows are imported", func() {
			w := do(mux, http.MethodPost, "/projects/p1/feeds/f1/rows",
				`{"rows":[{"session_id":"old-1","X_like":1},{"X_send_share":"1"}]}`)
			Convey("Then the count is reported", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeBody(w)["imported"], ShouldEqual, 2.0)
				So(len(deps.imported), ShouldEqual, 2)
			})
		})

		Convey("When an import is over the row limit", func() {
			deps.importErr = fmt.Errorf("%w: 3 > 2", service.ErrTooManyRows)
			w := do(mux, http.MethodPost, "/projects/p1/feeds/f1/rows", `{"rows":[{},{},{}]}`)
			Convey("Then it is too large", func() {
				So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			})
		})

		Convey("When a post is named", func() {
			w := do(mux, http.MethodPut, "/projects/p1/feeds/f1/posts/A/name", `{"name":"  Vaccine  "}`)
			Convey("Then the trimmed name is stored", func() {
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(deps.names["p1/f1/A"], ShouldEqual, "Vaccine")
			})
		})

		Convey("When a post name is blank", func() {
			w := do(mux, http.MethodPut, "/projects/p1/feeds/f1/posts/A/name", `{"name":" "}`)
			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Given API errors", t, func() {
		cause := errors.New("boom")

		Convey("Then kinds and causes are both matchable", func() {
			err := api.WrapKind("api.op", api.ErrBadRequest, cause)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		})

		Convey("Then Wrap keeps the cause's kind", func() {
			err := api.Wrap("api.op", fmt.Errorf("x: %w", repository.ErrNotFound))
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			So(api.Wrap("api.op", nil), ShouldBeNil)
		})

		Convey("Then NewKind has no cause", func() {
			err := api.NewKind("api.op", api.ErrBackpressure)
			So(errors.Is(err, api.ErrBackpressure), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: backpressure")
		})
	})
}
