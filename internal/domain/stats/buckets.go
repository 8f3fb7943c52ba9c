package stats

import "time"

// Bucket is a half open interval [Start, End). The last bucket of a query
// also contains End, which is the query's now.
type Bucket struct {
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Resolution Resolution `json:"resolution"`
}

// Buckets returns n contiguous buckets in ascending order. They are aligned
// to the UTC calendar: hours to the hour, days to midnight, weeks to Monday.
// The last one runs from the aligned now to now.
func Buckets(now time.Time, res Resolution, n int) []Bucket {
	if n <= 0 {
		return nil
	}
	now = now.UTC()
	out := make([]Bucket, n)
	end := now
	start := align(now, res)
	for i := n - 1; i >= 0; i-- {
		out[i] = Bucket{Start: start, End: end, Resolution: res}
		end = start
		start = step(start, res, -1)
	}
	return out
}

func align(t time.Time, res Resolution) time.Time {
	switch res {
	case Hours:
		return t.Truncate(time.Hour)
	case Weeks:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday is 0
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

func step(t time.Time, res Resolution, n int) time.Time {
	switch res {
	case Hours:
		return t.Add(time.Duration(n) * time.Hour)
	case Weeks:
		return t.AddDate(0, 0, 7*n)
	default:
		return t.AddDate(0, 0, n)
	}
}

// index returns the bucket holding t, or -1.
func index(buckets []Bucket, t time.Time) int {
	if len(buckets) == 0 {
		return -1
	}
	last := len(buckets) - 1
	if t.Before(buckets[0].Start) || t.After(buckets[last].End) {
		return -1
	}
	for i, b := range buckets {
		if t.Before(b.End) || i == last {
			return i
		}
	}
	return -1
}
