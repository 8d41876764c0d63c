package memory

import (
	"context"
	"testing"
	"time"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

func TestPublisherStoresEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	now := time.Now()
	if err := pub.Publish(context.Background(), bot.Event{Type: bot.EventGroupFormed, GroupID: "g1", At: now}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Publish(context.Background(), bot.Event{Type: bot.EventGroupActivated, GroupID: "g1", At: now}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	events := pub.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != bot.EventGroupFormed || events[1].Type != bot.EventGroupActivated {
		t.Fatalf("events not recorded in order: %+v", events)
	}

	events[0].GroupID = "modified"
	if pub.Events()[0].GroupID == "modified" {
		t.Fatal("expected Events() to return a copy")
	}
}
