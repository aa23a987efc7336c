package events_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"civicsync-dispatch/events"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer(t *testing.T) {
	var b events.Buffer
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, events.Event{Subject: events.SubjectIssueReported, IssueID: "1"}))
	require.NoError(t, b.Publish(ctx, events.Event{Subject: events.SubjectIssueMerged, IssueID: "1"}))

	assert.Equal(t, []string{events.SubjectIssueReported, events.SubjectIssueMerged}, b.Subjects())
	got := b.Events()
	got[0].IssueID = "changed"
	assert.Equal(t, "1", b.Events()[0].IssueID)
}

func TestNATS(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("Skipping NATS test: TEST_NATS_URL must be set")
	}

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe(events.SubjectAssignmentCreated, msgs)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	pub, err := events.NewNATS(events.NATSConfig{URL: url, Name: "test", ConnectTimeout: time.Second})
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(context.Background(), events.Event{
		Subject: events.SubjectAssignmentCreated,
		IssueID: "issue-1",
		CrewID:  "crew-1",
	}))

	select {
	case msg := <-msgs:
		var e events.Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		assert.Equal(t, "issue-1", e.IssueID)
		assert.Equal(t, "crew-1", e.CrewID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
