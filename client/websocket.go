package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// StatusHandler receives decoded status messages from the runtime's
// websocket.  Handlers run on the listener goroutine; slow handlers delay
// subsequent messages for this runtime only.
type StatusHandler func(StatusMessage)

// StatusMessage is one decoded websocket frame.  Which fields are meaningful
// depends on Type; see the Type* constants.
type StatusMessage struct {
	Type           string
	PromptID       string
	NodeID         string
	QueueRemaining int
	Value          int
	Max            int
	NodeType       string
	ErrorMessage   string
	ErrorType      string
}

// Status message types surfaced to handlers.
const (
	TypeStatus      = "status"      // QueueRemaining
	TypeStarted     = "started"     // PromptID
	TypeExecuting   = "executing"   // PromptID, NodeID ("" when the run finished)
	TypeProgress    = "progress"    // PromptID, Value, Max
	TypeExecuted    = "executed"    // PromptID, NodeID
	TypeFinished    = "finished"    // PromptID
	TypeInterrupted = "interrupted" // PromptID
	TypeError       = "error"       // PromptID, NodeID, NodeType, ErrorMessage
)

type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ListenStatus connects to the runtime's websocket and forwards decoded
// status messages to handler until ctx is cancelled.  Dropped connections are
// retried with exponential backoff; maxRetries <= 0 retries forever.
func (c *RuntimeClient) ListenStatus(ctx context.Context, handler StatusHandler, maxRetries int) error {
	wsURL := websocketURL(c.baseURL, c.clientID)

	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			retries++
			if maxRetries > 0 && retries > maxRetries {
				return fmt.Errorf("websocket connect: %w", err)
			}
			slog.Warn("websocket connect failed, retrying", "url", wsURL, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay(retries)):
			}
			continue
		}
		retries = 0

		readErr := c.readStatusFrames(ctx, conn, handler)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("websocket read ended, reconnecting", "url", wsURL, "error", readErr)
	}
}

func (c *RuntimeClient) readStatusFrames(ctx context.Context, conn *websocket.Conn, handler StatusHandler) error {
	// unblock ReadMessage when the context is cancelled
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue // preview image frames are binary
		}

		if msg, ok := decodeStatusFrame(data); ok {
			handler(msg)
		}
	}
}

// decodeStatusFrame translates one raw websocket frame into a StatusMessage.
// Unknown frame types are dropped.
func decodeStatusFrame(data []byte) (StatusMessage, bool) {
	env := wsEnvelope{}
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("undecodable status frame", "error", err)
		return StatusMessage{}, false
	}

	switch env.Type {
	case "status":
		var d struct {
			Status struct {
				ExecInfo struct {
					QueueRemaining int `json:"queue_remaining"`
				} `json:"exec_info"`
			} `json:"status"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return StatusMessage{}, false
		}
		return StatusMessage{Type: TypeStatus, QueueRemaining: d.Status.ExecInfo.QueueRemaining}, true

	case "execution_start":
		var d struct {
			PromptID string `json:"prompt_id"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return StatusMessage{}, false
		}
		return StatusMessage{Type: TypeStarted, PromptID: d.PromptID}, true

	case "executing":
		var d struct {
			Node     *string `json:"node"`
			PromptID string  `json:"prompt_id"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return StatusMessage{}, false
		}
		if d.Node == nil {
			// null node means the prompt finished
			return StatusMessage{Type: TypeFinished, PromptID: d.PromptID}, true
		}
		return StatusMessage{Type: TypeExecuting, PromptID: d.PromptID, NodeID: *d.Node}, true

	case "progress":
		var d struct {
			Value    int    `json:"value"`
			Max      int    `json:"max"`
			PromptID string `json:"prompt_id"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return StatusMessage{}, false
		}
		return StatusMessage{Type: TypeProgress, PromptID: d.PromptID, Value: d.Value, Max: d.Max}, true

	case "executed":
		var d struct {
			Node     string `json:"node"`
			PromptID string `json:"prompt_id"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return StatusMessage{}, false
		}
		return StatusMessage{Type: TypeExecuted, PromptID: d.PromptID, NodeID: d.Node}, true

	case "execution_interrupted":
		var d struct {
			PromptID string `json:"prompt_id"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return StatusMessage{}, false
		}
		return StatusMessage{Type: TypeInterrupted, PromptID: d.PromptID}, true

	case "execution_error":
		var d struct {
			PromptID         string `json:"prompt_id"`
			Node             string `json:"node_id"`
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
			ExceptionType    string `json:"exception_type"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return StatusMessage{}, false
		}
		return StatusMessage{
			Type: TypeError, PromptID: d.PromptID, NodeID: d.Node,
			NodeType: d.NodeType, ErrorMessage: d.ExceptionMessage, ErrorType: d.ExceptionType,
		}, true
	}

	return StatusMessage{}, false
}

func websocketURL(baseURL, clientID string) string {
	ws := baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/ws?clientId=" + clientID
}

func reconnectDelay(retries int) time.Duration {
	delay := time.Second * time.Duration(math.Pow(2, float64(retries-1)))
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
