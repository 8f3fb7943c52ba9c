package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartystreets/goconvey/convey"

	app "github.com/okian/vault/internal/app"
	"github.com/okian/vault/internal/config"
	"github.com/okian/vault/pkg/logger"
	"github.com/okian/vault/pkg/metrics"
)

func setenv(t *testing.T, kv map[string]string) {
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			setenv(t, map[string]string{
				"VAULT_ADDR":         ":8080",
				"VAULT_QUEUE_SIZE":   "1000",
				"VAULT_WORKER_COUNT": "4",
				"VAULT_STORE_DRIVER": "memory",
			})

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			})
		})

		convey.Convey("When testing invalid configuration", func() {
			setenv(t, map[string]string{"VAULT_CACHE_BACKEND": "memcached"})

			convey.Convey("Then configuration loading should fail", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When testing metrics initialization", func() {
			convey.Convey("Then metrics manager should be creatable", func() {
				manager := metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))
				convey.So(manager, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestNewMux(t *testing.T) {
	convey.Convey("Given the routes of a started service", t, func() {
		ctx := context.Background()
		svc := app.New(app.WithLogger(logger.Discard()), app.WithWorkerCount(1), app.WithKeyDir(t.TempDir()))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()
		mux := newMux(ctx, svc, logger.Discard())

		get := func(target string) int {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
			return w.Code
		}

		convey.Convey("Then the docs and API routes should be served", func() {
			convey.So(get("/healthz"), convey.ShouldEqual, http.StatusOK)
			convey.So(get("/metrics"), convey.ShouldEqual, http.StatusOK)
			convey.So(get("/openapi.yaml"), convey.ShouldEqual, http.StatusOK)
			convey.So(get("/api-docs"), convey.ShouldEqual, http.StatusOK)
			convey.So(get("/stats?accountId=unknown"), convey.ShouldEqual, http.StatusNotFound)
		})

		convey.Convey("Then the health route should fail once the service stops", func() {
			svc.Stop()
			convey.So(get("/healthz"), convey.ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given main application components", t, func() {
		convey.Convey("When testing system metrics updater", func() {
			convey.Convey("Then it should return once the context ends", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()

				convey.So(func() {
					startSystemMetricsUpdater(ctx)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When testing service metrics updater", func() {
			svc := app.New(app.WithLogger(logger.Discard()))

			convey.Convey("Then it should return once the context ends", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()

				convey.So(func() {
					startServiceMetricsUpdater(ctx, svc)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When testing metric updates", func() {
			svc := app.New(app.WithLogger(logger.Discard()))

			convey.Convey("Then they should not panic on a stopped service", func() {
				convey.So(updateSystemMetrics, convey.ShouldNotPanic)
				convey.So(func() { updateServiceMetrics(context.Background(), svc) }, convey.ShouldNotPanic)
			})
		})
	})
}

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
