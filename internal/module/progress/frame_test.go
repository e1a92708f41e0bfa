package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	eta := 12
	u := Update{
		TaskID:                 "3f1c",
		Status:                 StatusProcessing,
		Progress:               45,
		Message:                "fetching images",
		EstimatedTimeRemaining: &eta,
	}

	data, err := Encode(NewStateFrame(FrameProgressUpdate, u))
	require.NoError(t, err)

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameProgressUpdate, f.Type)

	back, err := f.Update()
	require.NoError(t, err)
	assert.Equal(t, u.TaskID, back.TaskID)
	assert.Equal(t, u.Status, back.Status)
	assert.Equal(t, u.Progress, back.Progress)
	assert.Equal(t, u.Message, back.Message)
	require.NotNil(t, back.EstimatedTimeRemaining)
	assert.Equal(t, 12, *back.EstimatedTimeRemaining)
}

func TestFrame_ZeroProgressIsKept(t *testing.T) {
	data, err := Encode(NewStateFrame(FrameInitialState, Update{TaskID: "t", Status: StatusPending}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"initial_state","taskId":"t","progress":0,"status":"pending"}`, string(data))
}

func TestFrame_TerminalFields(t *testing.T) {
	failed := Update{TaskID: "t", Status: StatusFailed, Progress: 30, Error: "no speech provider available", ErrorCode: "NO_PROVIDER_AVAILABLE"}
	data, err := Encode(NewStateFrame(FrameProgressUpdate, failed))
	require.NoError(t, err)

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	back, err := f.Update()
	require.NoError(t, err)
	assert.Equal(t, failed.Error, back.Error)
	assert.Equal(t, failed.ErrorCode, back.ErrorCode)
	assert.Nil(t, back.Result)
}

func TestErrorFrame(t *testing.T) {
	data, err := Encode(NewErrorFrame("", "unsupported frame type"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"unsupported frame type"}`, string(data))

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	_, err = f.Update()
	assert.Error(t, err)
}

func TestParseControl(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		want    FrameType
	}{
		{"subscribe", `{"type":"subscribe","taskId":"abc"}`, false, FrameSubscribe},
		{"unsubscribe", `{"type":"unsubscribe","taskId":"abc"}`, false, FrameUnsubscribe},
		{"missing task id", `{"type":"subscribe"}`, true, ""},
		{"server frame type", `{"type":"progress_update","taskId":"abc"}`, true, ""},
		{"missing type", `{"taskId":"abc"}`, true, ""},
		{"not json", `subscribe abc`, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseControl([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Type)
			assert.Equal(t, "abc", f.TaskID)
		})
	}
}
