// Package session answers whether a venue is trading at a given instant.
package session

import (
	"sync"
	"time"
	_ "time/tzdata"
)

// Session is one venue's regular trading hours in its local time zone.
type Session struct {
	Location    *time.Location
	OpenMinute  int // minutes after local midnight
	CloseMinute int
	Weekdays    []time.Weekday
	Holidays    []string // local dates, "2006-01-02"
	AlwaysOpen  bool
}

// AlwaysOpen is the 24x7 session used by crypto venues.
var AlwaysOpen = Session{AlwaysOpen: true}

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

func (s Session) isTradingDay(local time.Time) bool {
	ok := false
	for _, wd := range s.Weekdays {
		if local.Weekday() == wd {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	key := local.Format("2006-01-02")
	for _, h := range s.Holidays {
		if h == key {
			return false
		}
	}
	return true
}

// IsOpen reports whether t falls inside the session.
func (s Session) IsOpen(t time.Time) bool {
	if s.AlwaysOpen {
		return true
	}
	local := t.In(s.location())
	if !s.isTradingDay(local) {
		return false
	}
	hm := local.Hour()*60 + local.Minute()
	return hm >= s.OpenMinute && hm < s.CloseMinute
}

// NextOpen returns the next session open strictly after t, or t itself when the
// session is open. It gives up after two weeks of closed days.
func (s Session) NextOpen(t time.Time) time.Time {
	if s.IsOpen(t) {
		return t
	}
	loc := s.location()
	local := t.In(loc)
	for i := 0; i < 14; i++ {
		d := local.AddDate(0, 0, i)
		open := time.Date(d.Year(), d.Month(), d.Day(), s.OpenMinute/60, s.OpenMinute%60, 0, 0, loc)
		if open.After(t) && s.isTradingDay(open) {
			return open
		}
	}
	return t.Add(24 * time.Hour)
}

func (s Session) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// Table maps venues to sessions. Unknown venues are treated as always open.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewTable() *Table {
	return &Table{sessions: make(map[string]Session)}
}

// DefaultTable knows the crypto venues plus the US and Indian equity sessions.
func DefaultTable() *Table {
	t := NewTable()
	for _, venue := range []string{"bybit", "binance", "crypto", "24x7"} {
		t.Set(venue, AlwaysOpen)
	}

	ny := loadLocation("America/New_York", -5*3600)
	us := Session{Location: ny, OpenMinute: 9*60 + 30, CloseMinute: 16 * 60, Weekdays: weekdays}
	t.Set("nyse", us)
	t.Set("nasdaq", us)

	t.Set("nse", Session{
		Location:    time.FixedZone("IST", 5*3600+30*60),
		OpenMinute:  9*60 + 15,
		CloseMinute: 15*60 + 30,
		Weekdays:    weekdays,
	})
	return t
}

func loadLocation(name string, fallbackOffset int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, fallbackOffset)
	}
	return loc
}

func (t *Table) Set(venue string, s Session) {
	t.mu.Lock()
	t.sessions[venue] = s
	t.mu.Unlock()
}

func (t *Table) get(venue string) Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.sessions[venue]; ok {
		return s
	}
	return AlwaysOpen
}

func (t *Table) IsOpen(venue string, now time.Time) bool {
	return t.get(venue).IsOpen(now)
}

func (t *Table) NextOpen(venue string, now time.Time) time.Time {
	return t.get(venue).NextOpen(now)
}
