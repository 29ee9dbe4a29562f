package testsupport

import (
	"context"
	"strings"
	"sync"
)

// RecordedAlert is one alert captured by RecordingSink.
type RecordedAlert struct {
	Subject string
	Body    string
}

// RecordingSink captures alerts for assertions.
type RecordingSink struct {
	mu     sync.Mutex
	alerts []RecordedAlert
}

func (s *RecordingSink) Send(_ context.Context, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, RecordedAlert{Subject: subject, Body: body})
	return nil
}

// Alerts returns a copy of everything captured so far.
func (s *RecordingSink) Alerts() []RecordedAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedAlert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Count returns how many alerts carried subject.
func (s *RecordingSink) Count(subject string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if a.Subject == subject {
			n++
		}
	}
	return n
}

// Find returns the first alert whose subject matches and whose body contains substr.
func (s *RecordingSink) Find(subject, substr string) (RecordedAlert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.Subject == subject && strings.Contains(a.Body, substr) {
			return a, true
		}
	}
	return RecordedAlert{}, false
}

// Reset forgets captured alerts.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = nil
}
