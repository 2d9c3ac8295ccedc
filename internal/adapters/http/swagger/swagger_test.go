package swagger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestSwaggerHandler(t *testing.T) {
	convey.Convey("Given a swagger handler", t, func() {
		ctx := context.Background()
		mux := http.NewServeMux()

		convey.Convey("When registering the swagger handler", func() {
			Register(ctx, mux)

			convey.Convey("Then it should handle /openapi.yaml route", func() {
				req := httptest.NewRequest("GET", "/openapi.yaml", http.NoBody)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "application/yaml; charset=utf-8")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "/sessions/{session_id}/events")
			})

			convey.Convey("And it should handle /api-docs route", func() {
				req := httptest.NewRequest("GET", "/api-docs", http.NoBody)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "text/html; charset=utf-8")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "redoc-container")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "/openapi.yaml")
			})

			convey.Convey("And it should serve the event schema", func() {
				req := httptest.NewRequest("GET", "/schemas/events.json", http.NoBody)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)

				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "application/schema+json")

				var doc map[string]any
				convey.So(json.Unmarshal(w.Body.Bytes(), &doc), convey.ShouldBeNil)
				convey.So(doc["title"], convey.ShouldEqual, "feedtrace event")
				convey.So(len(doc["oneOf"].([]any)), convey.ShouldEqual, len(variants))
			})
		})
	})
}

func TestEventSchema(t *testing.T) {
	convey.Convey("Given the generated event schema", t, func() {
		s := EventSchema()

		convey.Convey("Then every action family is a variant", func() {
			convey.So(len(s.OneOf), convey.ShouldEqual, len(variants))
		})

		convey.Convey("Then the visibility variant carries the payload fields", func() {
			vis := s.OneOf[0]
			convey.So(vis.Title, convey.ShouldEqual, "visibility")
			frac, ok := vis.Properties.Get("vis_frac")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(string(frac.Maximum), convey.ShouldEqual, "1")
			convey.So(vis.Required, convey.ShouldContain, "session_id")
			convey.So(vis.Required, convey.ShouldContain, "vis_frac")

			action, _ := vis.Properties.Get("action")
			convey.So(action.Enum, convey.ShouldContain, "vp_enter")
			convey.So(action.Enum, convey.ShouldContain, "view_end")
		})

		convey.Convey("Then participant_id admits null", func() {
			pid, ok := s.OneOf[0].Properties.Get("participant_id")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(pid.Type, convey.ShouldBeEmpty)
			convey.So(len(pid.OneOf), convey.ShouldEqual, 2)
			convey.So(pid.OneOf[0].Type, convey.ShouldEqual, "string")
			convey.So(pid.OneOf[1].Type, convey.ShouldEqual, "null")
		})

		convey.Convey("Then ts_ms accepts the epoch", func() {
			ts, _ := s.OneOf[0].Properties.Get("ts_ms")
			convey.So(string(ts.Minimum), convey.ShouldEqual, "0")
		})

		convey.Convey("Then marker actions carry only the envelope", func() {
			marker := s.OneOf[len(s.OneOf)-1]
			convey.So(marker.Properties.Len(), convey.ShouldEqual, 6)
			action, _ := marker.Properties.Get("action")
			convey.So(action.Enum, convey.ShouldContain, "feed_submit")
		})

		convey.Convey("Then variants do not repeat the schema header", func() {
			for _, v := range s.OneOf {
				convey.So(v.Version, convey.ShouldBeEmpty)
			}
		})
	})
}

func TestSwaggerErrors(t *testing.T) {
	convey.Convey("Given swagger error constants", t, func() {
		convey.Convey("Then ErrServe should be defined", func() {
			convey.So(ErrServe, convey.ShouldNotBeNil)
			convey.So(ErrServe.Error(), convey.ShouldEqual, "swagger serve failed")
		})
	})
}

func TestSwaggerHandlerWithNilMux(t *testing.T) {
	convey.Convey("Given a nil mux", t, func() {
		ctx := context.Background()

		convey.Convey("When registering the swagger handler", func() {
			convey.Convey("Then it should panic", func() {
				convey.So(func() {
					Register(ctx, nil)
				}, convey.ShouldPanic)
			})
		})
	})
}
