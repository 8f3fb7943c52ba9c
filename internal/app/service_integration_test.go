package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/vault/internal/adapters/http/api"
	"github.com/okian/vault/internal/adapters/keyring"
	"github.com/okian/vault/internal/adapters/repository"
	"github.com/okian/vault/internal/adapters/webcrypto"
	service "github.com/okian/vault/internal/app"
	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/internal/domain/stats"
)

func encryptPageview(t *testing.T, secretJWK []byte, at time.Time, pv model.Pageview) string {
	pv.Timestamp = model.FormatTimestamp(at)
	plain, err := json.Marshal(pv)
	if err != nil {
		t.Fatal(err)
	}
	ct, err := webcrypto.EncryptSymmetric(secretJWK, plain)
	if err != nil {
		t.Fatal(err)
	}
	return ct
}

func waitForEvents(store repository.Store, accountID string, want int) int {
	deadline := time.Now().Add(5 * time.Second)
	for {
		evs, _ := store.Events(context.Background(), accountID, time.Unix(0, 0), time.Now().Add(time.Hour))
		if len(evs) >= want || time.Now().After(deadline) {
			return len(evs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func post(mux *http.ServeMux, target string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, target, strings.NewReader(string(b))))
	return w
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service serving the API with an account key on disk", t, func() {
		now := time.Now().UTC().Truncate(time.Second)
		store := repository.NewMemoryStore()
		keyDir := t.TempDir()

		priv, pub, err := webcrypto.GenerateAccountKey()
		So(err, ShouldBeNil)
		So(keyring.New(keyDir).Put("acc-1", priv), ShouldBeNil)

		svc := service.New(
			service.WithStore(store),
			service.WithKeyDir(keyDir),
			service.WithClock(clockwork.NewFakeClockAt(now)),
			service.WithWorkerCount(2),
			service.WithQueueSize(100),
		)
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc, svc).Register(context.Background(), mux)

		userKey, err := webcrypto.GenerateSecretKey()
		So(err, ShouldBeNil)
		wrapped, err := webcrypto.EncryptAsymmetric(pub, userKey)
		So(err, ShouldBeNil)

		Convey("When a secret and two pageviews are ingested", func() {
			w := post(mux, "/secrets", map[string]any{
				"accountId": "acc-1",
				"secrets":   []model.EncryptedSecret{{SecretID: "user-1", Value: wrapped}},
			})
			So(w.Code, ShouldEqual, http.StatusCreated)

			at := now.Add(-time.Hour)
			events := []model.EncryptedEvent{
				{
					EventID:   ulid.Make().String(),
					SecretID:  "user-1",
					Payload:   encryptPageview(t, userKey, at, model.Pageview{Href: "https://www.example.com/", SessionID: "s-1"}),
					Timestamp: at,
				},
				{
					EventID:   ulid.Make().String(),
					SecretID:  "user-1",
					Payload:   encryptPageview(t, userKey, at.Add(time.Minute), model.Pageview{Href: "https://www.example.com/about", SessionID: "s-1"}),
					Timestamp: at.Add(time.Minute),
				},
			}
			w = post(mux, "/events", map[string]any{"accountId": "acc-1", "events": events})
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(waitForEvents(store, "acc-1", 2), ShouldEqual, 2)

			Convey("Then resubmitting them should be a duplicate", func() {
				w := post(mux, "/events", map[string]any{"accountId": "acc-1", "events": events})
				So(w.Code, ShouldEqual, http.StatusOK)
			})

			Convey("Then the stats endpoint should report them", func() {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats?accountId=acc-1", nil))
				So(w.Code, ShouldEqual, http.StatusOK)

				var res stats.Result
				So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
				So(res.Range, ShouldEqual, stats.DefaultRange)
				So(res.Resolution, ShouldEqual, stats.DefaultResolution)
				So(res.UniqueUsers, ShouldEqual, 1)
				So(res.UniqueSessions, ShouldEqual, 1)
				So(res.Loss, ShouldEqual, 0.0)
				So(res.BounceRate, ShouldEqual, 0.0)
				So(res.AvgPageDepth, ShouldEqual, 2.0)
				So(res.Pages, ShouldHaveLength, 2)
				So(res.Pageviews, ShouldHaveLength, stats.DefaultRange)

				total := 0
				for _, b := range res.Pageviews {
					total += b.Pageviews
				}
				So(total, ShouldEqual, 2)
			})

			Convey("Then an account without a key should not be found", func() {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats?accountId=acc-2", nil))
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the service is stopped with events still queued", func() {
			events := make([]model.EncryptedEvent, 20)
			for i := range events {
				events[i] = model.EncryptedEvent{
					SecretID:  "user-1",
					Payload:   encryptPageview(t, userKey, now, model.Pageview{Href: fmt.Sprintf("https://www.example.com/%d", i)}),
					Timestamp: now,
				}
			}
			w := post(mux, "/events", map[string]any{"accountId": "acc-1", "events": events})
			So(w.Code, ShouldEqual, http.StatusAccepted)
			svc.Stop()

			Convey("Then every accepted event should have been persisted", func() {
				evs, err := store.Events(context.Background(), "acc-1", now.Add(-time.Minute), now)
				So(err, ShouldBeNil)
				So(evs, ShouldHaveLength, 20)
			})

			Convey("And the health endpoint should report unavailable", func() {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})
	})
}
