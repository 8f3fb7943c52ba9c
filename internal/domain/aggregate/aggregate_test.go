package aggregate_test

import (
	"errors"
	"testing"

	"github.com/okian/vault/internal/domain/aggregate"
	. "github.com/smartystreets/goconvey/convey"
)

var absent = aggregate.Absent

func row(kv ...any) aggregate.Row {
	r := make(aggregate.Row, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		r = append(r, aggregate.Field{Name: kv[i].(string), Value: kv[i+1]})
	}
	return r
}

func build(cols ...any) *aggregate.Aggregate {
	agg := aggregate.New()
	for i := 0; i+1 < len(cols); i += 2 {
		agg.SetColumn(cols[i].(string), cols[i+1].([]any))
	}
	return agg
}

func TestFromRows(t *testing.T) {
	Convey("Given rows to aggregate", t, func() {
		Convey("When all rows share a shape", func() {
			agg := aggregate.FromRows([]aggregate.Row{
				row("type", "foo", "value", 12),
				row("type", "bar", "value", 44),
			}, nil)

			Convey("Then each field becomes a column", func() {
				So(agg.Names(), ShouldResemble, []string{"type", "value"})
				So(agg.Column("type"), ShouldResemble, []any{"foo", "bar"})
				So(agg.Column("value"), ShouldResemble, []any{12, 44})
				So(agg.Len(), ShouldEqual, 2)
			})
		})

		Convey("When a normalize function is passed", func() {
			agg := aggregate.FromRows([]aggregate.Row{
				row("type", "foo", "payload", map[string]any{"value": 12}),
				row("type", "bar", "payload", map[string]any{"value": 44}),
			}, func(r aggregate.Row) aggregate.Row {
				typ, _ := r.Get("type")
				payload, _ := r.Get("payload")
				return row("type", typ, "value", payload.(map[string]any)["value"])
			})

			Convey("Then the normalized rows are aggregated", func() {
				So(agg.Names(), ShouldResemble, []string{"type", "value"})
				So(agg.Column("value"), ShouldResemble, []any{12, 44})
			})
		})

		Convey("When rows have different fields", func() {
			agg := aggregate.FromRows([]aggregate.Row{
				row("solo", []any{99}),
				row("type", "bar", "value", 12, "other", "ok"),
				row("type", "baz", "value", 14, "extra", true),
			}, nil)

			Convey("Then missing cells are padded with Absent", func() {
				So(agg.Names(), ShouldResemble, []string{"solo", "type", "value", "other", "extra"})
				So(agg.Column("type"), ShouldResemble, []any{absent, "bar", "baz"})
				So(agg.Column("value"), ShouldResemble, []any{absent, 12, 14})
				So(agg.Column("extra"), ShouldResemble, []any{absent, absent, true})
				So(agg.Column("other"), ShouldResemble, []any{absent, "ok", absent})
				So(agg.Column("solo"), ShouldResemble, []any{[]any{99}, absent, absent})
			})
		})

		Convey("When two rows carry disjoint single fields", func() {
			agg := aggregate.FromRows([]aggregate.Row{row("a", 1), row("b", 2)}, nil)

			Convey("Then the union keeps first-seen order", func() {
				So(agg.Column("a"), ShouldResemble, []any{1, absent})
				So(agg.Column("b"), ShouldResemble, []any{absent, 2})
			})
		})

		Convey("When a field is explicitly null", func() {
			agg := aggregate.FromRows([]aggregate.Row{row("a", nil), row("b", 1)}, nil)

			Convey("Then nil stays distinct from Absent", func() {
				So(agg.Column("a")[0], ShouldBeNil)
				So(aggregate.IsAbsent(agg.Column("a")[1]), ShouldBeTrue)
				So(aggregate.IsAbsent(agg.Column("a")[0]), ShouldBeFalse)
			})
		})

		Convey("When there are no rows", func() {
			agg := aggregate.FromRows(nil, nil)

			Convey("Then the aggregate is empty", func() {
				So(agg.Len(), ShouldEqual, 0)
				So(agg.Names(), ShouldBeEmpty)
			})
		})
	})
}

func TestMerge(t *testing.T) {
	Convey("Given aggregates to merge", t, func() {
		Convey("When they share a shape", func() {
			out := aggregate.Merge(
				build("type", []any{"a", "b"}, "value", []any{true, false}),
				build("type", []any{"x", "y", "z"}, "value", []any{1, 2, 3}),
			)

			Convey("Then columns are concatenated", func() {
				So(out.Column("type"), ShouldResemble, []any{"a", "b", "x", "y", "z"})
				So(out.Column("value"), ShouldResemble, []any{true, false, 1, 2, 3})
			})
		})

		Convey("When the first aggregate lacks a column", func() {
			out := aggregate.Merge(
				build("type", []any{"a", "b"}),
				build("type", []any{"x", "y", "z"}, "value", []any{1, 2, 3}),
			)

			Convey("Then padding is added at the head", func() {
				So(out.Names(), ShouldResemble, []string{"type", "value"})
				So(out.Column("type"), ShouldResemble, []any{"a", "b", "x", "y", "z"})
				So(out.Column("value"), ShouldResemble, []any{absent, absent, 1, 2, 3})
			})
		})

		Convey("When later aggregates lack columns", func() {
			out := aggregate.Merge(
				build("type", []any{"a", "b"}, "value", []any{1, 2}),
				build("type", []any{"x", "y", "z"}),
				build("other", []any{[]any{"ok"}}),
			)

			Convey("Then padding is added per source row count", func() {
				So(out.Column("type"), ShouldResemble, []any{"a", "b", "x", "y", "z", absent})
				So(out.Column("value"), ShouldResemble, []any{1, 2, absent, absent, absent, absent})
				So(out.Column("other"), ShouldResemble, []any{absent, absent, absent, absent, absent, []any{"ok"}})
				So(out.Len(), ShouldEqual, 6)
			})
		})

		Convey("When nothing is merged", func() {
			Convey("Then the result is empty", func() {
				So(aggregate.Merge().Len(), ShouldEqual, 0)
				So(aggregate.Merge(nil, aggregate.New()).Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestInflate(t *testing.T) {
	Convey("Given an aggregate to inflate", t, func() {
		agg := build("type", []any{"thing", "widget", "roomba"}, "value", []any{[]any{0}, nil, "foo"})

		Convey("When columns have equal length", func() {
			rows, err := aggregate.Inflate(agg, nil)

			Convey("Then one row per index is produced", func() {
				So(err, ShouldBeNil)
				So(rows, ShouldResemble, []aggregate.Row{
					row("type", "thing", "value", []any{0}),
					row("type", "widget", "value", nil),
					row("type", "roomba", "value", "foo"),
				})
			})
		})

		Convey("When columns have different lengths", func() {
			ragged := build("type", []any{"thing", "widget", "roomba"}, "value", []any{[]any{0}, nil, "foo", "whoops"})
			_, err := aggregate.Inflate(ragged, nil)

			Convey("Then ErrShapeMismatch is returned", func() {
				So(errors.Is(err, aggregate.ErrShapeMismatch), ShouldBeTrue)
			})
		})

		Convey("When a denormalize function is passed", func() {
			rows, err := aggregate.Inflate(agg, func(r aggregate.Row) aggregate.Row {
				typ, _ := r.Get("type")
				value, _ := r.Get("value")
				return row("type", typ, "payload", map[string]any{"value": value})
			})

			Convey("Then each row is denormalized", func() {
				So(err, ShouldBeNil)
				So(rows[1], ShouldResemble, row("type", "widget", "payload", map[string]any{"value": nil}))
				So(rows[2], ShouldResemble, row("type", "roomba", "payload", map[string]any{"value": "foo"}))
			})
		})

		Convey("When the aggregate is nil", func() {
			called := false
			rows, err := aggregate.Inflate(nil, func(r aggregate.Row) aggregate.Row {
				called = true
				return r
			})

			Convey("Then no rows are produced", func() {
				So(err, ShouldBeNil)
				So(rows, ShouldBeEmpty)
				So(called, ShouldBeFalse)
			})
		})
	})
}

func TestRoundTrip(t *testing.T) {
	Convey("Given heterogeneous rows", t, func() {
		rows := []aggregate.Row{
			row("solo", []any{99}),
			row("type", "bar", "value", 12, "other", "ok"),
			row("type", "baz", "value", nil, "extra", true),
			row(),
		}

		Convey("Then inflating their aggregate reproduces them", func() {
			out, err := aggregate.Inflate(aggregate.FromRows(rows, nil), nil)
			So(err, ShouldBeNil)
			So(out, ShouldHaveLength, len(rows))
			for i := range rows {
				So(len(out[i]), ShouldEqual, len(rows[i]))
				for _, f := range rows[i] {
					v, ok := out[i].Get(f.Name)
					So(ok, ShouldBeTrue)
					So(v, ShouldResemble, f.Value)
				}
			}
		})
	})
}

func TestRoundTripFieldOrder(t *testing.T) {
	Convey("Given rows that list the same fields in different orders", t, func() {
		rows := []aggregate.Row{
			row("b", 1, "a", "x"),
			row("a", "y", "b", 2),
		}
		out, err := aggregate.Inflate(aggregate.FromRows(rows, nil), nil)
		So(err, ShouldBeNil)

		Convey("Then every row comes back in first-seen column order", func() {
			So(out, ShouldResemble, []aggregate.Row{
				row("b", 1, "a", "x"),
				row("b", 2, "a", "y"),
			})
		})

		Convey("Then every field keeps its value by name", func() {
			for i := range rows {
				So(out[i], ShouldHaveLength, len(rows[i]))
				for _, f := range rows[i] {
					v, ok := out[i].Get(f.Name)
					So(ok, ShouldBeTrue)
					So(v, ShouldEqual, f.Value)
				}
			}
		})
	})
}
