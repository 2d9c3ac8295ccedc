package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a private registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When a manager is created with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithPrometheusRegistry(registry),
			)
			m.batchesAccepted.Inc()

			Convey("Then its collectors live on that registry under the namespace", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_batches_accepted_total"], ShouldBeTrue)
			})
		})

		Convey("When two managers share a registry", func() {
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the second registration panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When ingest metrics are recorded", func() {
			before := testutil.ToFloat64(globalManager.batchesDuplicate)
			RecordBatchDuplicate()
			RecordEventIngested("vp_enter")
			RecordBatchRejected("queue_full")

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.batchesDuplicate), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.eventsIngested.WithLabelValues("vp_enter")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When gauges are set", func() {
			UpdateQueueSize(7)
			UpdateSessionsOpen(3)

			Convey("Then they hold the value", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7.0)
				So(testutil.ToFloat64(globalManager.sessionsOpen), ShouldEqual, 3.0)
			})
		})

		Convey("When zero issues are reported", func() {
			RecordNormalizeIssues("schema_drift", 0)

			Convey("Then no series is created", func() {
				So(testutil.CollectAndCount(globalManager.normalizeIssues), ShouldEqual, 0)
			})
		})

		Convey("Then every recorder is safe to call", func() {
			So(func() {
				RecordBatchAccepted()
				RecordEventInvalid()
				RecordBeaconFlush()
				RecordVisibilityTransition("enter")
				RecordRowBuilt(1.5)
				RecordSummary(2)
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.7)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.1)
				UpdateWorkerCount(4)
				UpdateWorkerActiveCount(1)
				RecordWorkerProcessingLatency(3)
				RecordWorkerError()
				RecordStoreWrite("memory", 0.2)
				RecordStoreQuery("sqlite", 0.4)
				UpdateStoreRows(12)
				RecordHTTPRequest("/healthz", "GET", "200")
				RecordHTTPRequestDuration("/healthz", "GET", "200", 1)
				RecordErrorByComponent("queue", "closed")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
