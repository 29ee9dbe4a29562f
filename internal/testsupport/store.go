package testsupport

import (
	"context"
	"testing"

	"daqpull/internal/config"
	"daqpull/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenChannel attaches to a typed channel or fails the test.
func MustOpenChannel[T any](t testing.TB, store *queue.Store, name string) *queue.Channel[T] {
	t.Helper()

	ch, err := queue.OpenChannel[T](context.Background(), store, name)
	if err != nil {
		t.Fatalf("queue.OpenChannel(%s): %v", name, err)
	}
	return ch
}
