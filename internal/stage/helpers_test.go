package stage_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/logging"
	"daqpull/internal/queue"
	"daqpull/internal/stage"
	"daqpull/internal/testsupport"
)

func TestAwaitWorkAlertsOnTimeout(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ch := testsupport.MustOpenChannel[queue.StoreItem](t, store, queue.ChannelStorage)
	sink := &testsupport.RecordingSink{}

	ok, err := stage.AwaitWork(context.Background(), ch, 20*time.Millisecond, alerts.SubjectNoFilesStored, "stored", sink, logging.NewNop())
	if err != nil || ok {
		t.Fatalf("expected timeout, got ok=%v err=%v", ok, err)
	}
	got := sink.Alerts()
	if len(got) != 1 || got[0].Subject != alerts.SubjectNoFilesStored {
		t.Fatalf("unexpected alerts %+v", got)
	}
	if !strings.Contains(got[0].Body, "No file stored in the last 0 minutes") {
		t.Fatalf("unexpected body %q", got[0].Body)
	}
}

func TestAwaitWorkReturnsWhenItemQueued(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ch := testsupport.MustOpenChannel[queue.StoreItem](t, store, queue.ChannelStorage)
	if err := ch.Push(context.Background(), queue.StoreItem{SourcePath: "a"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sink := &testsupport.RecordingSink{}
	ok, err := stage.AwaitWork(context.Background(), ch, time.Second, alerts.SubjectNoFilesStored, "stored", sink, logging.NewNop())
	if err != nil || !ok {
		t.Fatalf("expected item, got ok=%v err=%v", ok, err)
	}
	if len(sink.Alerts()) != 0 {
		t.Fatal("no alert expected when work arrives")
	}
}
