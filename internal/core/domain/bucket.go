package domain

import (
	"fmt"
	"time"
)

// ReferenceZone is the fixed offset used for all day-relative views. Both
// the agent and the console must bucket against the same offset or their
// "today" filters drift apart around midnight.
var ReferenceZone = time.FixedZone("UTC+6", 6*60*60)

// Bucket is a day-relative view of an order, derived from CreatedAt on
// demand. Never persisted.
type Bucket string

const (
	BucketToday     Bucket = "today"
	BucketYesterday Bucket = "yesterday"
	BucketWeek      Bucket = "week"
	BucketMonth     Bucket = "month"
	BucketOlder     Bucket = "older"
)

// ParseBucket validates a bucket filter value.
func ParseBucket(s string) (Bucket, error) {
	switch b := Bucket(s); b {
	case BucketToday, BucketYesterday, BucketWeek, BucketMonth, BucketOlder:
		return b, nil
	default:
		return "", &ValidationError{Field: "bucket", Reason: fmt.Sprintf("unknown value %q", s)}
	}
}

// DayKey is the calendar date of t in the reference zone. Time of day is
// ignored entirely; bucket membership compares these keys only.
func DayKey(t time.Time) string {
	return t.In(ReferenceZone).Format("2006-01-02")
}

func startOfDay(t time.Time) time.Time {
	r := t.In(ReferenceZone)
	return time.Date(r.Year(), r.Month(), r.Day(), 0, 0, 0, 0, ReferenceZone)
}

// BucketOf classifies createdAt relative to now. Most specific wins:
// today before yesterday before week before month.
func BucketOf(createdAt, now time.Time) Bucket {
	today := startOfDay(now)
	switch {
	case !createdAt.Before(today):
		return BucketToday
	case !createdAt.Before(today.AddDate(0, 0, -1)):
		return BucketYesterday
	case !createdAt.Before(startOfWeek(now)):
		return BucketWeek
	case !createdAt.Before(startOfMonth(now)):
		return BucketMonth
	default:
		return BucketOlder
	}
}

// BucketRange is the [start, end) window a list filter covers. Wider buckets
// include the narrower ones: "week" covers today and yesterday too, the way
// the console's period tabs work.
func BucketRange(b Bucket, now time.Time) (start, end time.Time) {
	today := startOfDay(now)
	switch b {
	case BucketToday:
		return today, today.AddDate(0, 0, 1)
	case BucketYesterday:
		return today.AddDate(0, 0, -1), today
	case BucketWeek:
		return startOfWeek(now), today.AddDate(0, 0, 1)
	case BucketMonth:
		return startOfMonth(now), today.AddDate(0, 0, 1)
	default:
		return time.Time{}, startOfMonth(now)
	}
}

// InBucket reports whether createdAt falls inside the bucket's range.
func InBucket(createdAt time.Time, b Bucket, now time.Time) bool {
	start, end := BucketRange(b, now)
	return !createdAt.Before(start) && createdAt.Before(end)
}

// startOfWeek is the most recent Sunday's midnight in the reference zone.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

func startOfMonth(t time.Time) time.Time {
	r := t.In(ReferenceZone)
	return time.Date(r.Year(), r.Month(), 1, 0, 0, 0, 0, ReferenceZone)
}
