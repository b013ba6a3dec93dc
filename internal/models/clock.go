package models

import "fmt"

const (
	DaysPerSeason  = 30
	SeasonsPerYear = 4
	DaysPerYear    = DaysPerSeason * SeasonsPerYear
)

var seasonNames = [SeasonsPerYear]string{"Spring", "Summer", "Autumn", "Winter"}

// Clock is the in-world calendar. Season and Day are zero based; Turn counts
// processed player actions.
type Clock struct {
	Year   int `json:"year" yaml:"year"`
	Season int `json:"season" yaml:"season"`
	Day    int `json:"day" yaml:"day"`
	Turn   int `json:"turn" yaml:"turn"`
}

// TotalDays returns the number of days since the start of year 1.
func (c Clock) TotalDays() int {
	return (c.Year-1)*DaysPerYear + c.Season*DaysPerSeason + c.Day
}

// ClockFromDays is the inverse of TotalDays. Turn is left at zero.
func ClockFromDays(days int) Clock {
	if days < 0 {
		days = 0
	}
	return Clock{
		Year:   days/DaysPerYear + 1,
		Season: (days % DaysPerYear) / DaysPerSeason,
		Day:    days % DaysPerSeason,
	}
}

// AddDays moves the calendar forward. Negative values are ignored so the
// clock never runs backwards.
func (c Clock) AddDays(days int) Clock {
	if days <= 0 {
		return c
	}
	next := ClockFromDays(c.TotalDays() + days)
	next.Turn = c.Turn
	return next
}

// Before reports whether c is strictly earlier than o.
func (c Clock) Before(o Clock) bool {
	if c.TotalDays() != o.TotalDays() {
		return c.TotalDays() < o.TotalDays()
	}
	return c.Turn < o.Turn
}

func (c Clock) String() string {
	season := "?"
	if c.Season >= 0 && c.Season < SeasonsPerYear {
		season = seasonNames[c.Season]
	}
	return fmt.Sprintf("Year %d, %s day %d", c.Year, season, c.Day+1)
}
