package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/vault/internal/adapters/mq/queue"
	worker "github.com/okian/vault/internal/adapters/mq/worker"
	"github.com/okian/vault/internal/adapters/repository"
	"github.com/okian/vault/internal/domain/dedupe"
	model "github.com/okian/vault/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	items chan queue.Item
	once  sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{items: make(chan queue.Item, 64)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Item { return mq.items }

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.items) })
	return nil
}

// flakyWriter fails for the event ids in failing and delegates the rest.
type flakyWriter struct {
	store   *repository.MemoryStore
	failing map[string]bool
}

func (w *flakyWriter) InsertEvents(ctx context.Context, accountID string, events ...model.EncryptedEvent) (int, error) {
	for _, e := range events {
		if w.failing[e.EventID] {
			return 0, errors.New("disk full")
		}
	}
	return w.store.InsertEvents(ctx, accountID, events...)
}

func item(id string) queue.Item {
	return queue.Item{
		AccountID: "account-1",
		Event: model.EncryptedEvent{
			EventID:   id,
			AccountID: "account-1",
			Payload:   "{1,} cipher",
			Timestamp: time.Date(2019, 7, 14, 10, 0, 0, 0, time.UTC),
		},
	}
}

func stored(s *repository.MemoryStore) int {
	from := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	out, _ := s.Events(context.Background(), "account-1", from, from.AddDate(1, 0, 0))
	return len(out)
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running worker", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := newMockQueue()
		store := repository.NewMemoryStore()
		d := dedupe.NewInMemoryDeduper()
		w := worker.NewInMemoryWorker(q, &flakyWriter{store: store, failing: map[string]bool{"bad": true}},
			worker.WithName("test-worker"), worker.WithDeduper(d))
		go w.Run(ctx)

		convey.Convey("When items are queued and the queue is closed", func() {
			for _, id := range []string{"e1", "e2", "e1"} {
				q.items <- item(id)
			}
			convey.So(q.Close(), convey.ShouldBeNil)
			convey.So(drained(w), convey.ShouldBeTrue)

			convey.Convey("Then each event is stored once", func() {
				convey.So(stored(store), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When persisting fails", func() {
			d.SeenAndRecord(ctx, "bad")
			q.items <- item("bad")
			q.items <- item("good")
			convey.So(q.Close(), convey.ShouldBeNil)
			convey.So(drained(w), convey.ShouldBeTrue)

			convey.Convey("Then the failed id is forgotten by the deduper", func() {
				convey.So(d.SeenAndRecord(ctx, "bad"), convey.ShouldBeFalse)
				convey.So(stored(store), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When shut down twice", func() {
			convey.So(w.Shutdown(waitCtx(t)), convey.ShouldBeNil)
			convey.So(w.Shutdown(waitCtx(t)), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a worker whose context is cancelled", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		w := worker.NewInMemoryWorker(newMockQueue(), &flakyWriter{store: repository.NewMemoryStore()})
		go w.Run(ctx)
		cancel()

		convey.Convey("Then it stops", func() {
			convey.So(w.Shutdown(waitCtx(t)), convey.ShouldBeNil)
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool of four workers on a real queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(1000))
		store := repository.NewMemoryStore()
		p := worker.NewPool(4, q, store)
		convey.So(p.Size(), convey.ShouldEqual, 4)
		p.Start(ctx)

		const n = 300
		for i := 0; i < n; i++ {
			convey.So(q.Enqueue(ctx, item(fmt.Sprintf("e%03d", i))), convey.ShouldBeTrue)
		}

		convey.Convey("When the pool shuts down", func() {
			convey.So(p.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then the queue was drained into the store", func() {
				convey.So(stored(store), convey.ShouldEqual, n)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a pool created without a worker count", t, func() {
		p := worker.NewPool(0, newMockQueue(), repository.NewMemoryStore())

		convey.Convey("Then a CPU based default is used", func() {
			convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
		})
	})
}

func drained(w *worker.InMemoryWorker) bool {
	select {
	case <-w.Done():
		return true
	case <-time.After(5 * time.Second):
		return false
	}
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
