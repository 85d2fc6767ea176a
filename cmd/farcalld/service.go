package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// service is the object the daemon serves on stdio.
type service struct {
	Name string `farcall:"name"`

	mu      sync.Mutex
	greeted []string
}

func newService() *service {
	return &service{Name: "farcalld"}
}

func (s *service) Add(a, b int) int {
	return a + b
}

// Greet answers through done, which lives in the caller's process.
func (s *service) Greet(ctx context.Context, name string, done func(string)) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("empty name")
	}
	s.mu.Lock()
	s.greeted = append(s.greeted, name)
	s.mu.Unlock()
	done("hello, " + name)
	return nil
}

func (s *service) Greeted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.greeted...)
}

// Clock returns a live object rather than a copy.
func (s *service) Clock() *clock {
	return &clock{started: time.Now()}
}

type clock struct {
	started time.Time
}

func (c *clock) Now() time.Time {
	return time.Now()
}

func (c *clock) Uptime() string {
	return time.Since(c.started).Round(time.Millisecond).String()
}
