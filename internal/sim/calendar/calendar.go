package calendar

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Season is the in-world season. The numeric value is its sort rank.
type Season int

const (
	Spring Season = iota
	Summer
	Fall
	Winter
	// Unknown is any label that is not one of the four named seasons.
	// It sorts last and never matches a real anniversary.
	Unknown
)

// DefaultDaysPerSeason is the host calendar's month length.
const DefaultDaysPerSeason = 28

var seasonNames = [...]string{"Spring", "Summer", "Fall", "Winter", "Unknown"}

func (s Season) String() string {
	if s < Spring || s > Unknown {
		return seasonNames[Unknown]
	}
	return seasonNames[s]
}

// Rank returns the sort rank of s (0..4). Out-of-range values rank as Unknown.
func (s Season) Rank() int {
	if s < Spring || s > Winter {
		return int(Unknown)
	}
	return int(s)
}

// Valid reports whether s is one of the four named seasons.
func (s Season) Valid() bool { return s >= Spring && s <= Winter }

// ParseSeason upper-cases the first letter of label and matches it against
// the four season names. The rest of the label is compared as-is, so
// "spring" parses but "SPRING" does not.
func ParseSeason(label string) Season {
	if label == "" {
		return Unknown
	}
	r, size := utf8.DecodeRuneInString(label)
	if r == utf8.RuneError {
		return Unknown
	}
	normalized := string(unicode.ToUpper(r)) + label[size:]
	for i := Spring; i <= Winter; i++ {
		if seasonNames[i] == normalized {
			return i
		}
	}
	return Unknown
}

// Rank maps a season label to its sort rank. Unrecognized labels rank 4.
func Rank(label string) int { return ParseSeason(label).Rank() }

// Date is a day within the in-world year.
type Date struct {
	Season Season
	Day    int
}

func NewDate(seasonLabel string, day int) Date {
	return Date{Season: ParseSeason(seasonLabel), Day: day}
}

func (d Date) String() string { return fmt.Sprintf("%s %d", d.Season, d.Day) }

// Compare orders dates by season rank, then day.
func (d Date) Compare(o Date) int {
	if a, b := d.Season.Rank(), o.Season.Rank(); a != b {
		if a < b {
			return -1
		}
		return 1
	}
	switch {
	case d.Day < o.Day:
		return -1
	case d.Day > o.Day:
		return 1
	}
	return 0
}

// IsAfterAnniversary reports whether current is strictly later in the year
// than anniversary. The anniversary day itself is not "after".
func IsAfterAnniversary(current, anniversary Date) bool {
	if !current.Season.Valid() || !anniversary.Season.Valid() {
		return false
	}
	cr, ar := current.Season.Rank(), anniversary.Season.Rank()
	return cr > ar || (cr == ar && current.Day > anniversary.Day)
}

// IsAnniversary reports whether current falls on target.
func IsAnniversary(current, target Date) bool {
	if !current.Season.Valid() || !target.Season.Valid() {
		return false
	}
	return current.Season.Rank() == target.Season.Rank() && current.Day == target.Day
}

// Moment is the calendar position reported by the host.
type Moment struct {
	Year int
	Date
}

func (m Moment) String() string { return fmt.Sprintf("Y%d %s", m.Year, m.Date) }

// Next returns the following day, rolling over to the next season after
// daysPerSeason days and to the next year after Winter.
func (m Moment) Next(daysPerSeason int) Moment {
	if daysPerSeason <= 0 {
		daysPerSeason = DefaultDaysPerSeason
	}
	if !m.Season.Valid() {
		return m
	}
	m.Day++
	if m.Day <= daysPerSeason {
		return m
	}
	m.Day = 1
	if m.Season == Winter {
		m.Season = Spring
		m.Year++
		return m
	}
	m.Season++
	return m
}
