package seasonal

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// serialEpochOffset is the number of days between the spreadsheet epoch
// (1899-12-30, 1900 date system) and the Unix epoch.
const serialEpochOffset = 25569

// maxSerialDays keeps the int64 conversion in fromSerial far from overflow.
// Results are further limited to years 1..9999.
const maxSerialDays = 100_000_000

// dateLayouts are tried in order when a Date cell is text.
var dateLayouts = []string{
	"2006-1-2",
	time.RFC3339Nano,
	"2006-1-2T15:04:05",
	"2006-1-2T15:04",
	"2006-1-2 15:04:05",
	"2006-1-2 15:04",
	"2006/1/2",
	"2006/1/2 15:04:05",
	"1/2/2006",
	"1/2/2006 15:04:05",
	"1/2/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"Mon Jan 2 2006",
	time.RFC1123Z,
	time.RFC1123,
	"2006-1",
	"2006/1",
	"January 2006",
	"Jan 2006",
	"2006",
}

// ParseDate resolves a Date cell to a UTC calendar day.
// Numbers are spreadsheet serial dates; strings are parsed as dates first and
// as serial numbers second. Anything else is rejected.
func ParseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return inRange(calendarDay(t))
	case float64:
		return fromSerial(t)
	case float32:
		return fromSerial(float64(t))
	case int:
		return fromSerial(float64(t))
	case int64:
		return fromSerial(float64(t))
	case int32:
		return fromSerial(float64(t))
	case json.Number:
		return parseDateString(t.String())
	case string:
		return parseDateString(t)
	default:
		return time.Time{}, false
	}
}

func parseDateString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return inRange(calendarDay(d))
		}
	}
	serial, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, false
	}
	return fromSerial(serial)
}

// fromSerial converts a spreadsheet serial date. Fractional days (time of day) are dropped.
func fromSerial(serial float64) (time.Time, bool) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) {
		return time.Time{}, false
	}
	days := math.Floor(serial - serialEpochOffset)
	if math.Abs(days) > maxSerialDays {
		return time.Time{}, false
	}
	return inRange(time.Unix(int64(days)*86400, 0).UTC())
}

// inRange rejects days outside years 1..9999, which cannot be written as YYYY-MM-DD.
func inRange(d time.Time) (time.Time, bool) {
	if d.Year() < 1 || d.Year() > 9999 {
		return time.Time{}, false
	}
	return d, true
}

// calendarDay keeps the calendar date as written, dropping time and zone.
func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
