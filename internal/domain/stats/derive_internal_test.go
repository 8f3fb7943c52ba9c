package stats

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/okian/vault/internal/domain/aggregate"
	"github.com/okian/vault/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDeriveShapeMismatch(t *testing.T) {
	Convey("Given a table whose session column is short", t, func() {
		now := time.Date(2019, 7, 14, 10, 1, 0, 0, time.UTC)
		href, _ := url.Parse("https://www.offen.dev/")
		ts := now.Add(-time.Minute)

		table := aggregate.New()
		table.SetColumn(colTimestamp, []any{ts, ts})
		table.SetColumn(colHref, []any{href, href})
		table.SetColumn(colSecretID, []any{"u1", "u2"})
		table.SetColumn(colSessionID, []any{"s1"})

		d := &deriver{
			ctx:     context.Background(),
			logger:  logger.Discard(),
			table:   table,
			buckets: Buckets(now, Days, 7),
			now:     now,
		}
		res := d.derive(Query{Range: 7, Resolution: Days, Now: now})

		Convey("Then fields reading the session column keep their zero value", func() {
			So(res.UniqueSessions, ShouldEqual, 0)
			So(res.BounceRate, ShouldEqual, 0.0)
			So(res.MobileShare, ShouldBeNil)
			So(res.LandingPages, ShouldBeEmpty)
		})

		Convey("Then other fields are still derived", func() {
			So(res.UniqueUsers, ShouldEqual, 2)
			So(res.Pages, ShouldResemble, []CountItem{{Key: "https://www.offen.dev/", Count: 2}})
			So(res.Pageviews[6].Pageviews, ShouldEqual, 2)
			So(res.Empty, ShouldBeFalse)
		})
	})
}

func TestLoss(t *testing.T) {
	Convey("Given no events", t, func() {
		So(loss(nil, nil, time.Time{}, time.Now()), ShouldEqual, 0.0)
	})
}
