package events

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRequiresSubscriber(t *testing.T) {
	hub := NewHub(4, time.Second)

	err := hub.Publish("dev-1", Event{Type: TypeExec})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPublishPreservesOrder(t *testing.T) {
	hub := NewHub(4, time.Second)
	ch, cancel := hub.Subscribe("dev-1")
	defer cancel()

	require.NoError(t, hub.Publish("dev-1", Event{Type: TypeExec, Payload: "a"}))
	require.NoError(t, hub.Publish("dev-1", Event{Type: TypeCancel, Payload: "b"}))

	first := <-ch
	second := <-ch
	assert.Equal(t, TypeExec, first.Type)
	assert.Equal(t, TypeCancel, second.Type)
}

func TestPublishFullChannel(t *testing.T) {
	hub := NewHub(1, time.Second)
	_, cancel := hub.Subscribe("dev-1")
	defer cancel()

	require.NoError(t, hub.Publish("dev-1", Event{Type: TypeExec}))
	err := hub.Publish("dev-1", Event{Type: TypeExec})
	assert.ErrorIs(t, err, ErrChannelFull)
}

func TestRegisteredNoticeFlushedFirst(t *testing.T) {
	hub := NewHub(4, time.Second)
	hub.MarkRegistered("dev-1")

	ch, cancel := hub.Subscribe("dev-1")
	defer cancel()
	require.NoError(t, hub.Publish("dev-1", Event{Type: TypeExec}))

	first := <-ch
	assert.Equal(t, TypeRegistered, first.Type)
	second := <-ch
	assert.Equal(t, TypeExec, second.Type)

	// the notice is one-time
	cancel()
	ch2, cancel2 := hub.Subscribe("dev-1")
	defer cancel2()
	select {
	case ev := <-ch2:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestNewStreamReplacesOld(t *testing.T) {
	hub := NewHub(4, time.Second)
	old, cancelOld := hub.Subscribe("dev-1")
	defer cancelOld()

	fresh, cancelFresh := hub.Subscribe("dev-1")
	defer cancelFresh()

	_, ok := <-old
	assert.False(t, ok, "old channel must be closed on replacement")

	require.NoError(t, hub.Publish("dev-1", Event{Type: TypeExec}))
	ev := <-fresh
	assert.Equal(t, TypeExec, ev.Type)

	// cancelling the replaced stream must not tear down the new one
	cancelOld()
	assert.True(t, hub.Connected("dev-1"))
}

func TestServeSSEFrames(t *testing.T) {
	hub := NewHub(4, 20*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeSSE(w, r, "dev-1")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readFrame := func() string {
		var frame strings.Builder
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if line == "\n" {
				return frame.String()
			}
			frame.WriteString(line)
		}
	}

	assert.Contains(t, readFrame(), "event: connected")

	// wait for the subscription to land, then publish
	require.Eventually(t, func() bool { return hub.Connected("dev-1") },
		time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Publish("dev-1", Event{Type: TypeExec, Payload: map[string]string{"generationId": "g1"}}))

	frame := readFrame()
	assert.Contains(t, frame, "event: exec")
	assert.Contains(t, frame, `"generationId":"g1"`)

	// idle stream synthesizes a heartbeat
	assert.Contains(t, readFrame(), "event: heartbeat")
}
