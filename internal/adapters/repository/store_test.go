package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/vault/internal/adapters/repository"
	"github.com/okian/vault/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2019, 7, 14, 10, 0, 0, 0, time.UTC)

func ev(id, account string, offset time.Duration) model.EncryptedEvent {
	return model.EncryptedEvent{
		EventID:   id,
		AccountID: account,
		SecretID:  "user-1",
		Payload:   "{1,} " + id,
		Timestamp: base.Add(offset),
	}
}

type storeFactory struct {
	name string
	open func(t *testing.T) repository.Store
}

func factories() []storeFactory {
	fs := []storeFactory{
		{"MemoryStore", func(*testing.T) repository.Store { return repository.NewMemoryStore() }},
		{"SQLStore/sqlite", func(t *testing.T) repository.Store {
			s, err := repository.OpenSQLStore(context.Background(), repository.DialectSQLite, filepath.Join(t.TempDir(), "vault.db"))
			if err != nil {
				t.Fatal(err)
			}
			return s
		}},
	}
	if dsn := os.Getenv("VAULT_TEST_POSTGRES_DSN"); dsn != "" {
		fs = append(fs, storeFactory{"SQLStore/postgres", func(t *testing.T) repository.Store {
			s, err := repository.OpenSQLStore(context.Background(), repository.DialectPostgres, dsn)
			if err != nil {
				t.Fatal(err)
			}
			return s
		}})
	}
	return fs
}

func TestStores(t *testing.T) {
	for _, f := range factories() {
		Convey("Given a "+f.name, t, func() {
			ctx := context.Background()
			s := f.open(t)
			Reset(func() { _ = s.Close() })

			Convey("When events are inserted", func() {
				n, err := s.InsertEvents(ctx, "acc-1",
					ev("01C", "acc-1", 2*time.Hour),
					ev("01A", "acc-1", 0),
					ev("01B", "acc-2", 0),
				)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)

				Convey("Then they are returned ordered by timestamp then id", func() {
					out, err := s.Events(ctx, "acc-1", base.Add(-time.Hour), base.Add(3*time.Hour))
					So(err, ShouldBeNil)
					So(out, ShouldHaveLength, 3)
					So(out[0].EventID, ShouldEqual, "01A")
					So(out[1].EventID, ShouldEqual, "01B")
					So(out[1].AccountID, ShouldEqual, "acc-2")
					So(out[2].EventID, ShouldEqual, "01C")
					So(out[2].Timestamp.Equal(base.Add(2*time.Hour)), ShouldBeTrue)
					So(out[0].Payload, ShouldEqual, "{1,} 01A")
					So(out[0].SecretID, ShouldEqual, "user-1")
				})

				Convey("Then the window bounds are inclusive", func() {
					out, err := s.Events(ctx, "acc-1", base, base)
					So(err, ShouldBeNil)
					So(out, ShouldHaveLength, 2)

					out, err = s.Events(ctx, "acc-1", base.Add(time.Nanosecond), base.Add(time.Hour))
					So(err, ShouldBeNil)
					So(out, ShouldBeEmpty)
				})

				Convey("Then other partitions stay empty", func() {
					out, err := s.Events(ctx, "acc-2", base.Add(-time.Hour), base.Add(time.Hour))
					So(err, ShouldBeNil)
					So(out, ShouldBeEmpty)
				})

				Convey("Then re-inserting the same ids is a no-op", func() {
					n, err := s.InsertEvents(ctx, "acc-1", ev("01A", "acc-1", 0), ev("01D", "acc-1", time.Minute))
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 1)
				})
			})

			Convey("When an event has no id", func() {
				_, err := s.InsertEvents(ctx, "acc-1", model.EncryptedEvent{Payload: "x", Timestamp: base})

				Convey("Then ErrInvalidEvent is returned", func() {
					So(errors.Is(err, repository.ErrInvalidEvent), ShouldBeTrue)
				})
			})

			Convey("When secrets are inserted twice", func() {
				So(s.InsertSecrets(ctx, "acc-1",
					model.EncryptedSecret{SecretID: "user-1", AccountID: "acc-1", Value: "v1"},
					model.EncryptedSecret{SecretID: "user-2", AccountID: "acc-1", Value: "v2"},
				), ShouldBeNil)
				So(s.InsertSecrets(ctx, "acc-1",
					model.EncryptedSecret{SecretID: "user-1", AccountID: "acc-1", Value: "v1b"},
				), ShouldBeNil)

				Convey("Then the latest value wins", func() {
					out, err := s.Secrets(ctx, "acc-1")
					So(err, ShouldBeNil)
					So(out, ShouldHaveLength, 2)
					byID := map[string]string{}
					for _, sec := range out {
						byID[sec.SecretID] = sec.Value
					}
					So(byID["user-1"], ShouldEqual, "v1b")
					So(byID["user-2"], ShouldEqual, "v2")
				})

				Convey("Then other partitions have no secrets", func() {
					out, err := s.Secrets(ctx, "acc-9")
					So(err, ShouldBeNil)
					So(out, ShouldBeEmpty)
				})
			})

			Convey("When two accounts store a secret under the same id", func() {
				So(s.InsertSecrets(ctx, "acct-a", model.EncryptedSecret{SecretID: "user-x", AccountID: "acct-a", Value: "a-value"}), ShouldBeNil)
				So(s.InsertSecrets(ctx, "acct-b", model.EncryptedSecret{SecretID: "user-x", AccountID: "acct-b", Value: "b-value"}), ShouldBeNil)

				Convey("Then each account keeps its own value", func() {
					a, err := s.Secrets(ctx, "acct-a")
					So(err, ShouldBeNil)
					So(a, ShouldHaveLength, 1)
					So(a[0].Value, ShouldEqual, "a-value")

					b, err := s.Secrets(ctx, "acct-b")
					So(err, ShouldBeNil)
					So(b, ShouldHaveLength, 1)
					So(b[0].Value, ShouldEqual, "b-value")
				})
			})

			Convey("When the store is closed", func() {
				So(s.Close(), ShouldBeNil)

				Convey("Then every call fails with ErrStoreClosed", func() {
					_, err := s.Events(ctx, "acc-1", base, base)
					So(errors.Is(err, repository.ErrStoreClosed), ShouldBeTrue)
					_, err = s.Secrets(ctx, "acc-1")
					So(errors.Is(err, repository.ErrStoreClosed), ShouldBeTrue)
					_, err = s.InsertEvents(ctx, "acc-1", ev("01Z", "acc-1", 0))
					So(errors.Is(err, repository.ErrStoreClosed), ShouldBeTrue)
					So(errors.Is(s.InsertSecrets(ctx, "acc-1"), repository.ErrStoreClosed), ShouldBeTrue)
				})
			})
		})
	}
}

func TestOpenSQLStore(t *testing.T) {
	Convey("Given an unknown dialect", t, func() {
		_, err := repository.OpenSQLStore(context.Background(), "mysql", "dsn")

		Convey("Then ErrUnknownDriver is returned", func() {
			So(errors.Is(err, repository.ErrUnknownDriver), ShouldBeTrue)
		})
	})

	Convey("Given a sqlite file reopened", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "vault.db")
		s, err := repository.OpenSQLStore(ctx, repository.DialectSQLite, path)
		So(err, ShouldBeNil)
		_, err = s.InsertEvents(ctx, "acc-1", ev("01A", "acc-1", 0))
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		s, err = repository.OpenSQLStore(ctx, repository.DialectSQLite, path)
		So(err, ShouldBeNil)
		Reset(func() { _ = s.Close() })

		Convey("Then earlier rows are still there", func() {
			out, err := s.Events(ctx, "acc-1", base, base)
			So(err, ShouldBeNil)
			So(out, ShouldHaveLength, 1)
		})
	})
}
