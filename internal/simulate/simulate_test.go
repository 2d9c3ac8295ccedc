package simulate_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/feedtrace/internal/adapters/http/api"
	service "github.com/okian/feedtrace/internal/app"
	"github.com/okian/feedtrace/internal/simulate"
	"github.com/okian/feedtrace/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func startServer(t *testing.T, opts ...service.Option) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	svc := service.New(append([]service.Option{service.WithWorkerCount(2), service.WithLogger(logger.Nop())}, opts...)...)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc, svc, api.WithLogger(logger.Nop())).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Stop(ctx)
	})
	return srv
}

func TestRun(t *testing.T) {
	Convey("Given a running feedtrace server", t, func() {
		srv := startServer(t)
		ctx := context.Background()
		cfg := simulate.Config{
			BaseURL:      srv.URL,
			Posts:        8,
			Participants: 6,
			Workers:      3,
			BatchSize:    10,
			Seed:         42,
			Settle:       5 * time.Second,
			Timeout:      5 * time.Second,
		}

		Convey("When every participant submits", func() {
			cfg.CompleteRate = 1
			report, err := simulate.Run(ctx, cfg)

			Convey("Then the server holds one completed row per participant", func() {
				So(err, ShouldBeNil)
				So(report.Participants, ShouldEqual, int64(6))
				So(report.Submitted, ShouldEqual, int64(6))
				So(report.Failed, ShouldEqual, int64(0))
				So(report.Completed, ShouldEqual, 6)
				So(report.Events, ShouldBeGreaterThan, int64(0))
				So(report.Batches, ShouldBeGreaterThan, int64(0))
				So(report.Annotated, ShouldEqual, int64(0))
			})
		})

		Convey("When every participant abandons", func() {
			cfg.CompleteRate = 0
			cfg.FeedID = "feed-abandoned"
			report, err := simulate.Run(ctx, cfg)

			Convey("Then the flushes go out as beacons and no row is completed", func() {
				So(err, ShouldBeNil)
				So(report.Abandoned, ShouldEqual, int64(6))
				So(report.Submitted, ShouldEqual, int64(0))
				So(report.Beacons, ShouldBeGreaterThanOrEqualTo, int64(6))
				So(report.Completed, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a server with the debug overlay on", t, func() {
		srv := startServer(t, service.WithDebugOverlay(true))
		report, err := simulate.Run(context.Background(), simulate.Config{
			BaseURL:      srv.URL,
			Posts:        6,
			Participants: 2,
			Workers:      2,
			BatchSize:    10,
			Seed:         7,
			CompleteRate: 1,
			Settle:       5 * time.Second,
			Timeout:      5 * time.Second,
		})

		Convey("Then each session's detector annotates the posts it measured", func() {
			So(err, ShouldBeNil)
			So(report.Annotated, ShouldBeGreaterThan, int64(0))
		})
	})

	Convey("Given a server that is not reachable", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		Convey("Then Run fails the health check", func() {
			_, err := simulate.Run(context.Background(), simulate.Config{BaseURL: url, Timeout: time.Second})
			So(errors.Is(err, simulate.ErrUnhealthy), ShouldBeTrue)
		})
	})
}
