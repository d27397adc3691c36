package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/rickgao/sportzy/internal/api"
	"github.com/rickgao/sportzy/internal/connection"
	"github.com/rickgao/sportzy/internal/dispatch"
	"github.com/rickgao/sportzy/internal/journal"
)

// Compile-time checks that Recorder serves every component.
var (
	_ api.Metrics        = (*Recorder)(nil)
	_ connection.Metrics = (*Recorder)(nil)
	_ dispatch.Metrics   = (*Recorder)(nil)
	_ journal.Metrics    = (*Recorder)(nil)
)

func TestRecorderCreation(t *testing.T) {
	Convey("Given recorder creation", t, func() {
		Convey("When creating with a custom registry", func() {
			registry := prometheus.NewRegistry()
			r := New(WithPrometheusRegistry(registry), WithNamespace("test"))

			Convey("Then collectors live on that registry", func() {
				So(r.Registry(), ShouldEqual, registry)
				r.EventEmitted("welcome")
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
				So(families[0].GetName(), ShouldStartWith, "test_")
			})
		})

		Convey("When creating two recorders with defaults", func() {
			Convey("Then they do not collide", func() {
				So(func() {
					New()
					New()
				}, ShouldNotPanic)
			})
		})
	})
}

func TestRecorderRecording(t *testing.T) {
	Convey("Given a recorder", t, func() {
		r := New(WithPrometheusRegistry(prometheus.NewRegistry()))

		Convey("When REST attempts complete", func() {
			r.RequestCompleted("GET", "/matches", 200, 20*time.Millisecond)
			r.RequestCompleted("GET", "/matches", 0, time.Millisecond)
			r.RequestRetried("GET", "/matches")

			Convey("Then counters are labelled by status", func() {
				So(testutil.ToFloat64(r.requests.WithLabelValues("GET", "/matches", "200")), ShouldEqual, 1)
				So(testutil.ToFloat64(r.requests.WithLabelValues("GET", "/matches", "0")), ShouldEqual, 1)
				So(testutil.ToFloat64(r.requestRetries.WithLabelValues("GET", "/matches")), ShouldEqual, 1)
			})
		})

		Convey("When the connection changes state", func() {
			r.StateChanged("connecting")
			r.StateChanged("connected")

			Convey("Then only the current state is set", func() {
				So(testutil.ToFloat64(r.connectionState.WithLabelValues("connected")), ShouldEqual, 1)
				So(testutil.ToFloat64(r.connectionState.WithLabelValues("connecting")), ShouldEqual, 0)
				So(testutil.ToFloat64(r.connectionState.WithLabelValues("reconnecting")), ShouldEqual, 0)
			})
		})

		Convey("When frames arrive and queue", func() {
			r.FrameReceived("commentary")
			r.FrameReceived("commentary")
			r.FrameDropped("malformed")
			r.QueueDepth(3)
			r.ReconnectScheduled(1)

			Convey("Then frame metrics reflect it", func() {
				So(testutil.ToFloat64(r.framesReceived.WithLabelValues("commentary")), ShouldEqual, 2)
				So(testutil.ToFloat64(r.framesDropped.WithLabelValues("malformed")), ShouldEqual, 1)
				So(testutil.ToFloat64(r.outboundQueued), ShouldEqual, 3)
				So(testutil.ToFloat64(r.reconnects), ShouldEqual, 1)
			})
		})

		Convey("When journal batches run", func() {
			r.BatchWritten(10, 5*time.Millisecond)
			r.BatchWritten(5, 5*time.Millisecond)
			r.BatchFailed(7)
			r.JournalPending(2)

			Convey("Then rows and failures are counted", func() {
				So(testutil.ToFloat64(r.journalRows), ShouldEqual, 15)
				So(testutil.ToFloat64(r.journalFailures), ShouldEqual, 1)
				So(testutil.ToFloat64(r.journalPending), ShouldEqual, 2)
			})
		})

		Convey("When dispatch listeners panic", func() {
			r.EventEmitted("score_update")
			r.ListenerPanicked("score_update")

			Convey("Then both are counted", func() {
				So(testutil.ToFloat64(r.eventsEmitted.WithLabelValues("score_update")), ShouldEqual, 1)
				So(testutil.ToFloat64(r.listenerPanics.WithLabelValues("score_update")), ShouldEqual, 1)
			})
		})

		Convey("When the handler is scraped", func() {
			r.EventEmitted("welcome")
			rec := httptest.NewRecorder()
			r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
			body, _ := io.ReadAll(rec.Body)

			Convey("Then it exposes the collectors", func() {
				So(rec.Code, ShouldEqual, 200)
				So(string(body), ShouldContainSubstring, `sportzy_dispatch_events_total{kind="welcome"} 1`)
			})
		})
	})
}

func TestNilRecorder(t *testing.T) {
	Convey("Given a nil recorder", t, func() {
		var r *Recorder

		Convey("Then every method is a no-op", func() {
			So(func() {
				r.RequestCompleted("GET", "/", 200, time.Second)
				r.RequestRetried("GET", "/")
				r.StateChanged("connected")
				r.ReconnectScheduled(1)
				r.FrameReceived("welcome")
				r.FrameDropped("malformed")
				r.QueueDepth(1)
				r.EventEmitted("welcome")
				r.ListenerPanicked("welcome")
				r.BatchWritten(1, time.Second)
				r.BatchFailed(1)
				r.JournalPending(1)
			}, ShouldNotPanic)
		})
	})
}
