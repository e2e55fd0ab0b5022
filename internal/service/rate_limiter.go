package service

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter limita llamadas por clave en ventanas fijas. Si rechaza, devuelve
// cuánto falta para que abra la siguiente ventana.
type RateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// Ventanas fijas que arrancan con el primer hit: dos requests a 59s y 61s pueden
// caer en la misma ventana o no según la alineación.
type fixedWindowLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	now      func() time.Time
	counters map[string]*windowCounter
}

type windowCounter struct {
	start time.Time
	count int
}

const limiterSweepThreshold = 10000

// NewRateLimiter crea un rate limiter en memoria.
func NewRateLimiter(window time.Duration, max int) RateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &fixedWindowLimiter{
		window:   window,
		max:      max,
		now:      func() time.Time { return time.Now().UTC() },
		counters: make(map[string]*windowCounter),
	}
}

func (l *fixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false, l.window
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.counters) > limiterSweepThreshold {
		l.sweep(now)
	}

	c, ok := l.counters[key]
	if !ok || !now.Before(c.start.Add(l.window)) {
		c = &windowCounter{start: now}
		l.counters[key] = c
	}
	c.count++
	if c.count > l.max {
		return false, c.start.Add(l.window).Sub(now)
	}
	return true, 0
}

func (l *fixedWindowLimiter) sweep(now time.Time) {
	for k, c := range l.counters {
		if !now.Before(c.start.Add(l.window)) {
			delete(l.counters, k)
		}
	}
}
