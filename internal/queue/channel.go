package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Channel is a durable FIFO with a counting availability signal.
//
// Entries live in the shared append log; the consumer offset is persisted on
// Ack. The signal count is raised under the channel lock right after each
// durable insert and is rebuilt from the durable depth when the channel is
// opened, so a committed entry is always signalled and a signal always has a
// committed entry behind it.
//
// A Channel has any number of producers and exactly one consumer.
type Channel[T any] struct {
	store *Store
	name  string

	mu    sync.Mutex
	avail int
	wake  chan struct{}
}

// OpenChannel attaches to a named channel and restores its signal count.
func OpenChannel[T any](ctx context.Context, store *Store, name string) (*Channel[T], error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if name == "" {
		return nil, errors.New("channel name is required")
	}
	ch := &Channel[T]{
		store: store,
		name:  name,
		wake:  make(chan struct{}, 1),
	}
	depth, err := ch.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore %s channel: %w", name, err)
	}
	ch.avail = depth
	if depth > 0 {
		ch.signal()
	}
	return ch, nil
}

// Name returns the channel name.
func (c *Channel[T]) Name() string {
	return c.name
}

// Push durably appends item and raises the availability signal.
func (c *Channel[T]) Push(ctx context.Context, item T) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s item: %w", c.name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.store.inTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ensureContext(ctx),
			`INSERT INTO channel_entries (channel, payload, enqueued_at) VALUES (?, ?, ?)`,
			c.name, string(payload), formatTime(time.Now()),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", c.name, err)
	}
	c.avail++
	c.signal()
	return nil
}

// Acquire waits until an entry is available and claims one signal. It returns
// false when timeout elapses first. A timeout <= 0 waits indefinitely. The
// only error is context cancellation.
func (c *Channel[T]) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	ctx = ensureContext(ctx)
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		if c.tryAcquire() {
			return true, nil
		}
		select {
		case <-c.wake:
		case <-deadline:
			// an entry may have arrived together with the deadline
			return c.tryAcquire(), nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (c *Channel[T]) tryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.avail <= 0 {
		return false
	}
	c.avail--
	if c.avail > 0 {
		c.signal()
	}
	return true
}

// Release returns a claimed signal without touching the log, so the same
// head entry is offered again on the next Acquire.
func (c *Channel[T]) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.avail++
	c.signal()
}

// Available reports the number of unclaimed signals.
func (c *Channel[T]) Available() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avail
}

func (c *Channel[T]) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Peek returns the oldest unacknowledged entry without removing it.
func (c *Channel[T]) Peek(ctx context.Context) (Entry[T], error) {
	ctx = ensureContext(ctx)
	var (
		entry    Entry[T]
		payload  string
		enqueued string
	)
	err := c.store.db.QueryRowContext(ctx,
		`SELECT e.id, e.payload, e.enqueued_at FROM channel_entries e
         WHERE e.channel = ? AND e.id > COALESCE((SELECT acked_id FROM channel_offsets WHERE channel = ?), 0)
         ORDER BY e.id LIMIT 1`,
		c.name, c.name,
	).Scan(&entry.ID, &payload, &enqueued)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry[T]{}, ErrEmpty
	}
	if err != nil {
		return Entry[T]{}, fmt.Errorf("peek %s: %w", c.name, err)
	}
	if err := json.Unmarshal([]byte(payload), &entry.Item); err != nil {
		return Entry[T]{}, fmt.Errorf("decode %s entry %d: %w", c.name, entry.ID, err)
	}
	if ts, err := parseTime(enqueued); err == nil {
		entry.EnqueuedAt = ts
	}
	return entry, nil
}

// Ack commits entry as consumed. Only the current head may be acknowledged;
// the offset advance and log compaction commit together.
func (c *Channel[T]) Ack(ctx context.Context, entry Entry[T]) error {
	ctx = ensureContext(ctx)
	err := c.store.inTx(ctx, func(tx *sql.Tx) error {
		var acked int64
		err := tx.QueryRowContext(ctx, `SELECT acked_id FROM channel_offsets WHERE channel = ?`, c.name).Scan(&acked)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read offset: %w", err)
		}
		var head int64
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM channel_entries WHERE channel = ? AND id > ? ORDER BY id LIMIT 1`,
			c.name, acked,
		).Scan(&head)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: channel has no pending entries", ErrNotHead)
		}
		if err != nil {
			return fmt.Errorf("read head: %w", err)
		}
		if head != entry.ID {
			return fmt.Errorf("%w: head is %d, got %d", ErrNotHead, head, entry.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO channel_offsets (channel, acked_id, updated_at) VALUES (?, ?, ?)
             ON CONFLICT(channel) DO UPDATE SET acked_id = excluded.acked_id, updated_at = excluded.updated_at`,
			c.name, entry.ID, formatTime(time.Now()),
		); err != nil {
			return fmt.Errorf("advance offset: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM channel_entries WHERE channel = ? AND id <= ?`, c.name, entry.ID,
		); err != nil {
			return fmt.Errorf("compact log: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", c.name, err)
	}
	return nil
}

// Count returns the number of unacknowledged entries.
func (c *Channel[T]) Count(ctx context.Context) (int, error) {
	return c.store.channelDepth(ensureContext(ctx), c.name)
}

func (s *Store) channelDepth(ctx context.Context, name string) (int, error) {
	var depth int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM channel_entries
         WHERE channel = ? AND id > COALESCE((SELECT acked_id FROM channel_offsets WHERE channel = ?), 0)`,
		name, name,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return depth, nil
}

// Depths returns the unacknowledged entry count of every pipeline channel.
func (s *Store) Depths(ctx context.Context) (map[string]int, error) {
	ctx = ensureContext(ctx)
	out := make(map[string]int, len(ChannelNames))
	for _, name := range ChannelNames {
		depth, err := s.channelDepth(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = depth
	}
	return out, nil
}

// Summaries describes every pipeline channel including its raw head payload.
func (s *Store) Summaries(ctx context.Context) ([]ChannelSummary, error) {
	ctx = ensureContext(ctx)
	out := make([]ChannelSummary, 0, len(ChannelNames))
	for _, name := range ChannelNames {
		depth, err := s.channelDepth(ctx, name)
		if err != nil {
			return nil, err
		}
		summary := ChannelSummary{Name: name, Depth: depth}
		var enqueued string
		err = s.db.QueryRowContext(ctx,
			`SELECT id, payload, enqueued_at FROM channel_entries
             WHERE channel = ? AND id > COALESCE((SELECT acked_id FROM channel_offsets WHERE channel = ?), 0)
             ORDER BY id LIMIT 1`,
			name, name,
		).Scan(&summary.HeadID, &summary.HeadPayload, &enqueued)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("head of %s: %w", name, err)
		}
		if ts, parseErr := parseTime(enqueued); parseErr == nil {
			summary.HeadSince = ts
		}
		out = append(out, summary)
	}
	return out, nil
}
