package validate_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/internal/domain/validate"
	. "github.com/smartystreets/goconvey/convey"
)

func event(payload string) model.DecryptedEvent {
	return model.DecryptedEvent{
		EventID:   "01DFSTQ9D6MKRVZ9DZCDJ6E0ZH",
		AccountID: "account",
		SecretID:  "user",
		Timestamp: time.Now(),
		Payload:   []byte(payload),
	}
}

const now = `"2019-07-14T10:01:00.000Z"`

func TestValidateAndParseEvent(t *testing.T) {
	Convey("Given decrypted pageviews", t, func() {
		Convey("When the referrer is a bare origin", func() {
			v, err := validate.ValidateAndParseEvent(event(`{"type":"PAGEVIEW","referrer":"https://blog.foo.bar","href":"https://www.offen.dev/foo","timestamp":` + now + `,"sessionId":"session"}`))

			Convey("Then it should be parsed and get a trailing slash", func() {
				So(err, ShouldBeNil)
				So(v.Pageview.Referrer.String(), ShouldEqual, "https://blog.foo.bar/")
				So(v.Pageview.Href.String(), ShouldEqual, "https://www.offen.dev/foo/")
				So(v.Pageview.SessionID, ShouldEqual, "session")
				So(v.Pageview.Timestamp.Equal(time.Date(2019, 7, 14, 10, 1, 0, 0, time.UTC)), ShouldBeTrue)
				So(v.EventID, ShouldEqual, "01DFSTQ9D6MKRVZ9DZCDJ6E0ZH")
			})
		})

		Convey("When the referrer is empty", func() {
			v, err := validate.ValidateAndParseEvent(event(`{"type":"PAGEVIEW","referrer":"","href":"https://www.offen.dev/","timestamp":` + now + `,"pageload":null}`))

			Convey("Then it should pass through as nil", func() {
				So(err, ShouldBeNil)
				So(v.Pageview.Referrer, ShouldBeNil)
				So(v.Pageview.Pageload, ShouldBeNil)
			})
		})

		rejected := []struct{ name, payload string }{
			{"bad referrer", `{"type":"PAGEVIEW","referrer":"<script>alert(\"ZALGO\")</script>","href":"https://shady.business","timestamp":` + now + `}`},
			{"bad href", `{"type":"PAGEVIEW","referrer":"https://shady.business","href":"<script>alert(\"ZALGO\")</script>","timestamp":` + now + `}`},
			{"missing href", `{"type":"PAGEVIEW","timestamp":` + now + `,"pageload":150}`},
			{"relative href", `{"type":"PAGEVIEW","href":"/foo","timestamp":` + now + `}`},
			{"unknown type", `{"type":"ZALGO","href":"https://www.offen.dev/foo/","timestamp":` + now + `}`},
			{"numeric time", `{"type":"PAGEVIEW","href":"https://www.offen.dev/foo/","timestamp":8192}`},
			{"garbage time", `{"type":"PAGEVIEW","href":"https://www.offen.dev/foo/","timestamp":"yesterday"}`},
			{"not json", `ZALGO`},
		}
		for _, tc := range rejected {
			Convey("When the event has a "+tc.name, func() {
				_, err := validate.ValidateAndParseEvent(event(tc.payload))

				Convey("Then it should be rejected with ErrValidation", func() {
					So(errors.Is(err, validate.ErrValidation), ShouldBeTrue)
				})
			})
		}

		Convey("When the type is unknown", func() {
			_, err := validate.ValidateAndParseEvent(event(`{"type":"ZALGO"}`))

			Convey("Then the payload error should be kept in the chain", func() {
				So(errors.Is(err, model.ErrUnknownEventType), ShouldBeTrue)
			})
		})
	})
}

func TestNormalizeURL(t *testing.T) {
	Convey("Given urls to normalize", t, func() {
		cases := []struct{ in, want string }{
			{"https://www.offen.dev/foo", "https://www.offen.dev/foo/"},
			{"https://www.offen.dev/foo/", "https://www.offen.dev/foo/"},
			{"https://www.offen.dev/foo/?bar-baz", "https://www.offen.dev/foo/?bar-baz"},
			{"https://www.offen.dev/foo?bar-baz", "https://www.offen.dev/foo/?bar-baz"},
			{"https://www.offen.dev", "https://www.offen.dev/"},
			{"https://www.offen.dev/a%2Fb", "https://www.offen.dev/a%2Fb/"},
		}

		for _, tc := range cases {
			in, want := tc.in, tc.want
			Convey("Then "+in+" should become "+want, func() {
				u, err := validate.NormalizeURL(in)
				So(err, ShouldBeNil)
				So(u.String(), ShouldEqual, want)

				again, err := validate.NormalizeURL(u.String())
				So(err, ShouldBeNil)
				So(again.String(), ShouldEqual, want)
			})
		}

		Convey("Then non-absolute urls should fail", func() {
			for _, in := range []string{"", "/foo", "www.offen.dev", "<script>"} {
				_, err := validate.NormalizeURL(in)
				So(err, ShouldNotBeNil)
			}
		})
	})
}
