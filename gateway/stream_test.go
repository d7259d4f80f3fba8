package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	. "talespinner/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func streamFrom(raw string) *EventStream {
	body := io.NopCloser(strings.NewReader(raw))
	return &EventStream{
		runID:  "run-1",
		body:   body,
		reader: bufio.NewReader(body),
		cancel: func() {},
		logger: zap.NewNop(),
		closed: make(chan struct{}),
	}
}

func TestNextParsesFrames(t *testing.T) {
	raw := ": ping\n\n" +
		"id: 1\nevent: stage\ndata: {\"run_id\":\"run-1\",\"seq\":1,\"type\":\"stage\",\"payload\":{\"stage\":\"analyzing\"}}\n\n" +
		"event: hitl_questions\r\ndata: {\"run_id\":\"run-1\",\"seq\":2,\r\ndata: \"type\":\"hitl_questions\",\"payload\":{\"questions\":[]}}\r\n\r\n"

	stream := streamFrom(raw)

	event, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, EventStage, event.Type)
	assert.Equal(t, 1, event.Seq)

	var stage StagePayload
	require.NoError(t, json.Unmarshal(event.Payload, &stage))
	assert.Equal(t, "analyzing", stage.Stage)

	event, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, EventHitlQuestions, event.Type)
	assert.Equal(t, 2, event.Seq)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNextSkipsMalformedData(t *testing.T) {
	raw := "data: not json\n\n" +
		"event: done\ndata: {\"run_id\":\"run-1\",\"seq\":3,\"payload\":{\"ok\":true}}\n\n"

	event, err := streamFrom(raw).Next()
	require.NoError(t, err)
	assert.Equal(t, EventDone, event.Type, "event name fills a missing envelope type")
}

func TestCloseIsIdempotent(t *testing.T) {
	stream := streamFrom("")
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	_, err := stream.Next()
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestSubscribeAgainstServer(t *testing.T) {
	client, srv := newTestClient(t)
	runID := srv.Script(
		RunEvent{Type: EventStage, Payload: json.RawMessage(`{"stage":"asking"}`)},
		RunEvent{Type: EventDone, Payload: json.RawMessage(`{"ok":true}`)},
	)

	stream, err := client.Subscribe(context.Background(), runID)
	require.NoError(t, err)
	defer stream.Close()

	var seen []string
	for {
		event, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, runID, event.RunID)
		seen = append(seen, event.Type)
	}
	assert.Equal(t, []string{EventStage, EventDone}, seen)
}

func TestCloseUnblocksHeldStream(t *testing.T) {
	client, srv := newTestClient(t)
	srv.HoldStreams = true
	runID := srv.Script()

	stream, err := client.Subscribe(context.Background(), runID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Next()
		done <- err
	}()

	require.NoError(t, stream.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestSubscribeUnknownRun(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.Subscribe(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}
