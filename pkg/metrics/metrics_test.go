package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should register under the vault namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.eventsDecrypted.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "vault_events_decrypted_total")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("sub"),
				WithMetricPrefix("pfx"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names should carry namespace, subsystem and prefix", func() {
				So(manager.refreshInterval, ShouldEqual, 5*time.Second)
				manager.cacheWrites.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_sub_pfx_cache_writes_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When two managers share a registry", func() {
			registry := prometheus.NewRegistry()
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then registration should panic on duplicates", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestDecryptionMetrics(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording decryption outcomes", func() {
			before := testutil.ToFloat64(globalManager.eventsDropped.WithLabelValues(ReasonDecrypt))
			RecordEventDropped(ReasonDecrypt)
			RecordEventDropped(ReasonDecrypt)

			Convey("Then the dropped counter should grow per reason", func() {
				after := testutil.ToFloat64(globalManager.eventsDropped.WithLabelValues(ReasonDecrypt))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording fetched events", func() {
			before := testutil.ToFloat64(globalManager.eventsFetched)
			RecordEventsFetched(5)
			RecordEventsFetched(0)
			RecordEventsFetched(-3)

			Convey("Then only positive counts should be added", func() {
				So(testutil.ToFloat64(globalManager.eventsFetched)-before, ShouldEqual, 5)
			})
		})

		Convey("When recording cache commits", func() {
			commits := testutil.ToFloat64(globalManager.cacheCommits)
			failures := testutil.ToFloat64(globalManager.cacheCommitErrors)
			RecordCacheCommit(nil)
			RecordCacheCommit(errors.New("disk full"))

			Convey("Then failures should be counted separately", func() {
				So(testutil.ToFloat64(globalManager.cacheCommits)-commits, ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.cacheCommitErrors)-failures, ShouldEqual, 1)
			})
		})

		Convey("When recording cache lookups", func() {
			hits := testutil.ToFloat64(globalManager.cacheLookups.WithLabelValues("hit"))
			misses := testutil.ToFloat64(globalManager.cacheLookups.WithLabelValues("miss"))
			RecordCacheLookup(true)
			RecordCacheLookup(false)
			RecordCacheLookup(false)

			Convey("Then hits and misses should be labelled", func() {
				So(testutil.ToFloat64(globalManager.cacheLookups.WithLabelValues("hit"))-hits, ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.cacheLookups.WithLabelValues("miss"))-misses, ShouldEqual, 2)
			})
		})

		Convey("When recording everything else", func() {
			So(func() {
				RecordEventDecrypted()
				RecordDecryptBatch(12, 3.5)
				RecordSecretResolution("cache_hit")
				RecordSecretResolutionShared()
				RecordCacheWrite()
				UpdateCacheEntries(42)
				RecordStatsComputation("days", 12, 0.25)
				RecordStatsFieldError("retentionMatrix")
				RecordEventIngested()
				RecordEventDuplicate()
				UpdateQueueSize(10)
				UpdateQueueCapacity(100)
				RecordQueueEnqueueError()
				UpdateWorkerCount(4)
				RecordWorkerLatency(1.5)
				RecordWorkerError()
				RecordHTTPRequest("/stats", "GET", "200")
				RecordHTTPRequestDuration("/stats", "GET", "200", 8)
				RecordErrorByEndpoint("/events", "POST", "queue_full")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the global registry", t, func() {
		RecordStatsComputation("weeks", 1, 0)

		Convey("Then it should expose the vault metrics", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(names, ShouldContain, "vault_stats_computations_total")
			So(names, ShouldNotContain, "go_goroutines")
		})
	})
}

func TestDisabledManager(t *testing.T) {
	Convey("Given a disabled manager on a registry", t, func() {
		registry := prometheus.NewRegistry()
		manager := NewManager(WithPrometheusRegistry(registry), WithMetricsEnabled(false))

		Convey("When metrics are recorded", func() {
			manager.eventsDecrypted.Inc()
			manager.queueSize.Set(3)

			Convey("Then nothing reaches the registry", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(families, ShouldBeEmpty)
			})
		})
	})
}

func TestConfigure(t *testing.T) {
	Convey("Given the global manager", t, func() {
		before := GetRegistry()
		Reset(func() { Configure() })

		Convey("When it is reconfigured", func() {
			Configure(WithRefreshInterval(2*time.Second), WithMetricsEnabled(false))

			Convey("Then the new settings are visible package-wide", func() {
				So(RefreshInterval(), ShouldEqual, 2*time.Second)
				So(Enabled(), ShouldBeFalse)
				So(GetRegistry(), ShouldNotEqual, before)

				RecordEventDecrypted()
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				So(families, ShouldBeEmpty)
			})
		})

		Convey("When it is reconfigured with defaults", func() {
			Configure()

			Convey("Then metrics are exported again", func() {
				So(Enabled(), ShouldBeTrue)
				So(RefreshInterval(), ShouldEqual, defaultRefreshInterval)
				RecordEventDecrypted()
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				So(families, ShouldNotBeEmpty)
			})
		})
	})
}
