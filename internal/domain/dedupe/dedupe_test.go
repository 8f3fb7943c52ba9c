package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/vault/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()

		Convey("Then it starts empty", func() {
			So(d.Size(), ShouldEqual, 0)
		})

		Convey("When an event id is recorded", func() {
			seen := d.SeenAndRecord(ctx, "01J0000000000000000000000A")

			Convey("Then the first call reports it as new", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("Then the second call reports it as seen", func() {
				So(d.SeenAndRecord(ctx, "01J0000000000000000000000A"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And unrecorded", func() {
				d.Unrecord(ctx, "01J0000000000000000000000A")

				Convey("Then it is accepted again", func() {
					So(d.Size(), ShouldEqual, 0)
					So(d.SeenAndRecord(ctx, "01J0000000000000000000000A"), ShouldBeFalse)
				})
			})
		})

		Convey("When unrecording an unknown id", func() {
			d.Unrecord(ctx, "nonexistent")

			Convey("Then nothing changes", func() {
				So(d.Size(), ShouldEqual, 0)
			})
		})
	})
}

func TestInMemoryDeduperBounded(t *testing.T) {
	Convey("Given a deduper bounded to three ids", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for _, id := range []string{"event-1", "event-2", "event-3", "event-4"} {
			So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("Then the oldest id was evicted", func() {
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "event-4"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "event-3"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "event-1"), ShouldBeFalse)
		})

		Convey("Then unrecording frees a slot without evicting", func() {
			d.Unrecord(ctx, "event-3")
			So(d.SeenAndRecord(ctx, "event-5"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "event-2"), ShouldBeTrue)
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		const n = 1000
		for i := 0; i < n; i++ {
			So(d.SeenAndRecord(ctx, fmt.Sprintf("event-%d", i)), ShouldBeFalse)
		}

		Convey("Then nothing is evicted", func() {
			So(d.Size(), ShouldEqual, int64(n))
			So(d.SeenAndRecord(ctx, "event-0"), ShouldBeTrue)
			d.Unrecord(ctx, "event-0")
			So(d.Size(), ShouldEqual, int64(n-1))
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given goroutines racing on the same ids", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		const goroutines, ids = 10, 100

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			winner = make(map[string]int)
		)
		for g := 0; g < goroutines; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < ids; i++ {
					id := fmt.Sprintf("event-%d", i)
					if !d.SeenAndRecord(ctx, id) {
						mu.Lock()
						winner[id]++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each id is recorded by exactly one goroutine", func() {
			So(d.Size(), ShouldEqual, int64(ids))
			So(winner, ShouldHaveLength, ids)
			for _, n := range winner {
				So(n, ShouldEqual, 1)
			}
		})
	})
}
