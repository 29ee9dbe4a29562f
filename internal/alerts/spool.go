package alerts

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/beeker1121/goque"
)

// ErrCorruptEntry marks a spooled alert that can no longer be decoded.
var ErrCorruptEntry = errors.New("corrupt alert spool entry")

// Spool is a durable FIFO of composed alerts awaiting delivery.
type Spool struct {
	mu sync.Mutex
	q  *goque.Queue
}

// OpenSpool opens or creates the spool under dir.
func OpenSpool(dir string) (*Spool, error) {
	q, err := goque.OpenQueue(dir)
	if err != nil {
		return nil, fmt.Errorf("open alert spool %s: %w", dir, err)
	}
	return &Spool{q: q}, nil
}

// Push appends msg to the spool.
func (s *Spool) Push(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.q.Enqueue(data); err != nil {
		return fmt.Errorf("spool alert: %w", err)
	}
	return nil
}

// Peek returns the oldest message. ok is false when the spool is empty.
func (s *Spool) Peek() (msg Message, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.q.Peek()
	if errors.Is(err, goque.ErrEmpty) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("peek alert spool: %w", err)
	}
	if err := json.Unmarshal(item.Value, &msg); err != nil {
		return Message{}, false, fmt.Errorf("%w: entry %d: %v", ErrCorruptEntry, item.ID, err)
	}
	return msg, true, nil
}

// Drop removes the oldest message.
func (s *Spool) Drop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.q.Dequeue(); err != nil && !errors.Is(err, goque.ErrEmpty) {
		return fmt.Errorf("dequeue alert spool: %w", err)
	}
	return nil
}

// Len reports the number of undelivered alerts.
func (s *Spool) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.q.Length())
}

func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Close()
}
