// Package markethours answers NYSE calendar questions: whether a day is a
// trading day, when the session opens and closes, and a status line.
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// NewYork is the exchange time zone.
var NewYork = mustLoad("America/New_York")

// Regular session in exchange time.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: load %s: %v", name, err))
	}
	return loc
}

// IsMarketOpen returns true if t falls within the regular session
// (9:30 AM – 4:00 PM ET on trading days).
func IsMarketOpen(t time.Time) bool {
	et := t.In(NewYork)
	if !IsTradingDay(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri in exchange time.
func IsWeekday(t time.Time) bool {
	wd := t.In(NewYork).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not an exchange holiday.
func IsTradingDay(t time.Time) bool {
	return IsWeekday(t) && !IsHoliday(t)
}

// NextOpen returns the next session open. If t is before today's open on a
// trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(NewYork)
	todayOpen := time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, NewYork)
	if et.Before(todayOpen) && IsTradingDay(et) {
		return todayOpen
	}

	d := et.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, NewYork)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(et.Year(), et.Month(), et.Day()+1, OpenHour, OpenMinute, 0, 0, NewYork)
}

// TodayClose returns today's session close (4:00 PM ET).
func TodayClose(t time.Time) time.Time {
	et := t.In(NewYork)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, CloseMinute, 0, 0, NewYork)
}

// LastClose returns the most recent session close at or before t.
func LastClose(t time.Time) time.Time {
	et := t.In(NewYork)
	if IsTradingDay(et) && !et.Before(TodayClose(et)) {
		return TodayClose(et)
	}
	d := et.AddDate(0, 0, -1)
	for i := 0; i < 10 && !IsTradingDay(d); i++ {
		d = d.AddDate(0, 0, -1)
	}
	return TodayClose(d)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		d := TodayClose(t).Sub(t)
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(d))
	}
	next := NextOpen(t)
	d := next.Sub(t)
	return fmt.Sprintf("Market Closed, opens %s %s ET (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(d))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
