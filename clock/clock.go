// Package clock stellt eine injizierbare Zeitquelle bereit.
package clock

import (
	"sync"
	"time"
)

// Clock liefert die aktuelle Zeit.
type Clock interface {
	Now() time.Time
}

// Real nutzt die Systemzeit (UTC).
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake ist eine manuell vorgestellte Uhr für Tests und Simulationen.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake erstellt eine Fake-Uhr mit Startzeit t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance stellt die Uhr um d vor.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set setzt die Uhr auf t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
