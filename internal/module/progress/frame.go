package progress

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies a message on the real-time channel.
type FrameType string

const (
	// Client to server.
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"

	// Server to client.
	FrameInitialState   FrameType = "initial_state"
	FrameProgressUpdate FrameType = "progress_update"
	FrameError          FrameType = "error"
)

// Frame is the JSON message exchanged over the WebSocket.
type Frame struct {
	Type                   FrameType      `json:"type"`
	TaskID                 string         `json:"taskId,omitempty"`
	Progress               *int           `json:"progress,omitempty"`
	Message                string         `json:"message,omitempty"`
	Status                 string         `json:"status,omitempty"`
	EstimatedTimeRemaining *int           `json:"estimatedTimeRemaining,omitempty"`
	Result                 map[string]any `json:"result,omitempty"`
	Error                  string         `json:"error,omitempty"`
	ErrorCode              string         `json:"errorCode,omitempty"`
}

// NewStateFrame builds an initial_state or progress_update frame from an update.
func NewStateFrame(t FrameType, u Update) Frame {
	p := u.Progress
	return Frame{
		Type:                   t,
		TaskID:                 u.TaskID,
		Progress:               &p,
		Message:                u.Message,
		Status:                 u.Status,
		EstimatedTimeRemaining: u.EstimatedTimeRemaining,
		Result:                 u.Result,
		Error:                  u.Error,
		ErrorCode:              u.ErrorCode,
	}
}

// NewErrorFrame builds a protocol error frame.
func NewErrorFrame(taskID, message string) Frame {
	return Frame{Type: FrameError, TaskID: taskID, Message: message}
}

// Encode serializes a frame.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses any frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("frame type is required")
	}
	return f, nil
}

// ParseControl parses a client control frame and rejects anything else.
func ParseControl(data []byte) (Frame, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return Frame{}, err
	}
	switch f.Type {
	case FrameSubscribe, FrameUnsubscribe:
	default:
		return Frame{}, fmt.Errorf("unsupported frame type %q", f.Type)
	}
	if f.TaskID == "" {
		return Frame{}, fmt.Errorf("taskId is required for %s", f.Type)
	}
	return f, nil
}

// Update converts a state frame back into an update.
func (f Frame) Update() (Update, error) {
	if f.Type != FrameInitialState && f.Type != FrameProgressUpdate {
		return Update{}, fmt.Errorf("frame %q carries no task state", f.Type)
	}
	u := Update{
		TaskID:                 f.TaskID,
		Status:                 f.Status,
		Message:                f.Message,
		EstimatedTimeRemaining: f.EstimatedTimeRemaining,
		Result:                 f.Result,
		Error:                  f.Error,
		ErrorCode:              f.ErrorCode,
	}
	if f.Progress != nil {
		u.Progress = *f.Progress
	}
	return u, nil
}
