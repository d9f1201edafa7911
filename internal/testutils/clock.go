package testutils

import (
	"sync"
	"time"
)

// Clock управляемый источник времени для тестов
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock создает часы, установленные на start
func NewClock(start time.Time) *Clock {
	return &Clock{current: start}
}

// Now возвращает текущее время часов
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set устанавливает время
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance сдвигает часы вперед и возвращает новое время
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}
