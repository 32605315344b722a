package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/comfygrid/comfygrid/graphapi"
)

const objectInfoDoc = `{
	"EmptyLatentImage": {
		"input": {"required": {
			"width": ["INT", {"default": 512, "min": 16, "max": 16384}],
			"height": ["INT", {"default": 512, "min": 16, "max": 16384}],
			"batch_size": ["INT", {"default": 1, "min": 1, "max": 4096}]
		}},
		"output": ["LATENT"],
		"name": "EmptyLatentImage"
	}
}`

func newTestRuntime(t *testing.T, fetches *int64) (*httptest.Server, *RuntimeClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/object_info", func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			atomic.AddInt64(fetches, 1)
		}
		w.Write([]byte(objectInfoDoc))
	})
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prompt_id": "p-1", "number": 3}`))
	})
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"p-1": {"prompt": [], "outputs": {}, "status": {"messages": []}}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewRuntimeClient(srv.URL)
}

func TestFetchObjectInfo(t *testing.T) {
	_, c := newTestRuntime(t, nil)

	reg, err := c.FetchObjectInfo(context.Background())
	if err != nil {
		t.Fatalf("FetchObjectInfo: %v", err)
	}
	if reg.Type("EmptyLatentImage") == nil {
		t.Fatal("EmptyLatentImage missing")
	}
	if reg.BaseURL != c.BaseURL() {
		t.Errorf("registry base url = %q, want %q", reg.BaseURL, c.BaseURL())
	}
}

func TestQueuePrompt(t *testing.T) {
	_, c := newTestRuntime(t, nil)

	queued, err := c.QueuePrompt(context.Background(), graphapi.ApiPrompt{})
	if err != nil {
		t.Fatalf("QueuePrompt: %v", err)
	}
	if queued.PromptID != "p-1" || queued.Number != 3 {
		t.Errorf("queued = %+v", queued)
	}
}

func TestQueuePromptRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs"}, "node_errors": []}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewRuntimeClient(srv.URL)
	_, err := c.QueuePrompt(context.Background(), graphapi.ApiPrompt{})
	if err == nil {
		t.Fatal("want rejection error")
	}
	if err.Error() != "Prompt has no outputs" {
		t.Errorf("err = %q, want the runtime's message", err)
	}
}

func TestRegistryCacheCollapsesConcurrentFetches(t *testing.T) {
	var fetches int64
	_, c := newTestRuntime(t, &fetches)

	cache := NewRegistryCache(0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(context.Background(), c); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&fetches); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestRegistryCacheInvalidate(t *testing.T) {
	var fetches int64
	_, c := newTestRuntime(t, &fetches)

	cache := NewRegistryCache(time.Hour)
	if _, err := cache.Get(context.Background(), c); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := cache.Get(context.Background(), c); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := atomic.LoadInt64(&fetches); got != 1 {
		t.Fatalf("fetches = %d, want cached", got)
	}

	cache.Invalidate(c.BaseURL())
	if _, err := cache.Get(context.Background(), c); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := atomic.LoadInt64(&fetches); got != 2 {
		t.Errorf("fetches = %d, want refetch after invalidate", got)
	}
}

func TestDecodeStatusFrames(t *testing.T) {
	cases := []struct {
		raw  string
		want StatusMessage
	}{
		{
			`{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 2}}}}`,
			StatusMessage{Type: TypeStatus, QueueRemaining: 2},
		},
		{
			`{"type": "execution_start", "data": {"prompt_id": "p-1"}}`,
			StatusMessage{Type: TypeStarted, PromptID: "p-1"},
		},
		{
			`{"type": "executing", "data": {"node": "5", "prompt_id": "p-1"}}`,
			StatusMessage{Type: TypeExecuting, PromptID: "p-1", NodeID: "5"},
		},
		{
			`{"type": "executing", "data": {"node": null, "prompt_id": "p-1"}}`,
			StatusMessage{Type: TypeFinished, PromptID: "p-1"},
		},
		{
			`{"type": "progress", "data": {"value": 4, "max": 20, "prompt_id": "p-1"}}`,
			StatusMessage{Type: TypeProgress, PromptID: "p-1", Value: 4, Max: 20},
		},
	}

	for _, tc := range cases {
		got, ok := decodeStatusFrame([]byte(tc.raw))
		if !ok {
			t.Errorf("frame %s not decoded", tc.raw)
			continue
		}
		if got != tc.want {
			t.Errorf("frame %s = %+v, want %+v", tc.raw, got, tc.want)
		}
	}

	if _, ok := decodeStatusFrame([]byte(`{"type": "crystools.monitor", "data": {}}`)); ok {
		t.Error("unknown frame type must be dropped")
	}
}

func TestWebsocketURL(t *testing.T) {
	if got := websocketURL("http://gpu01:8188", "cid"); got != "ws://gpu01:8188/ws?clientId=cid" {
		t.Errorf("ws url = %s", got)
	}
	if got := websocketURL("https://gpu01", "cid"); got != "wss://gpu01/ws?clientId=cid" {
		t.Errorf("wss url = %s", got)
	}
}
