package model

import (
	"time"

	"smartpesa/internal/pipeline"
)

// kenyaFixedHolidays are public holidays observed on the same date every year.
var kenyaFixedHolidays = []struct {
	name  string
	month time.Month
	day   int
}{
	{"New Year's Day", time.January, 1},
	{"Labour Day", time.May, 1},
	{"Madaraka Day", time.June, 1},
	{"Huduma Day", time.October, 10},
	{"Mashujaa Day", time.October, 20},
	{"Jamhuri Day", time.December, 12},
	{"Christmas Day", time.December, 25},
	{"Boxing Day", time.December, 26},
}

// KenyaHoliday returns the holiday name for a day, or "" if it is not a holiday.
func KenyaHoliday(day time.Time) string {
	day = pipeline.Day(day)
	for _, h := range kenyaFixedHolidays {
		if day.Month() == h.month && day.Day() == h.day {
			return h.name
		}
	}
	easter := easterSunday(day.Year())
	switch {
	case day.Equal(easter.AddDate(0, 0, -2)):
		return "Good Friday"
	case day.Equal(easter.AddDate(0, 0, 1)):
		return "Easter Monday"
	}
	return ""
}

// easterSunday computes Western Easter with the anonymous Gregorian algorithm.
func easterSunday(year int) time.Time {
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
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
