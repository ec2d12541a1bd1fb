package markethours

import "time"

// IsHoliday returns true if the date (in exchange time) is a full-day NYSE
// holiday.
func IsHoliday(t time.Time) bool {
	et := t.In(NewYork)
	y, m, d := et.Date()
	for _, h := range Holidays(y) {
		if h.Month() == m && h.Day() == d {
			return true
		}
	}
	return false
}

// Holidays returns the full-day NYSE closures of year, with weekend dates
// shifted to their observed weekday: New Year's Day, Martin Luther King Jr.
// Day, Washington's Birthday, Good Friday, Memorial Day, Juneteenth (from
// 2022), Independence Day, Labor Day, Thanksgiving and Christmas.
func Holidays(year int) []time.Time {
	days := []time.Time{
		newYears(year),
		nthWeekday(year, time.January, time.Monday, 3),
		nthWeekday(year, time.February, time.Monday, 3),
		easter(year).AddDate(0, 0, -2),
		lastWeekday(year, time.May, time.Monday),
		observed(date(year, time.July, 4)),
		nthWeekday(year, time.September, time.Monday, 1),
		nthWeekday(year, time.November, time.Thursday, 4),
		observed(date(year, time.December, 25)),
	}
	if year >= 2022 {
		days = append(days, observed(date(year, time.June, 19))) // Juneteenth
	}
	return days
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, NewYork)
}

// observed moves Saturday holidays to Friday and Sunday holidays to Monday.
func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

// newYears is not moved back into December when Jan 1 is a Saturday.
func newYears(year int) time.Time {
	t := date(year, time.January, 1)
	if t.Weekday() == time.Sunday {
		return t.AddDate(0, 0, 1)
	}
	return t
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	t := date(year, month, 1)
	for t.Weekday() != wd {
		t = t.AddDate(0, 0, 1)
	}
	return t.AddDate(0, 0, 7*(n-1))
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	t := date(year, month+1, 1).AddDate(0, 0, -1)
	for t.Weekday() != wd {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// easter returns Easter Sunday (anonymous Gregorian algorithm).
func easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return date(year, time.Month(month), day)
}
