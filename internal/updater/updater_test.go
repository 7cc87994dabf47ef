package updater

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	updateErrors "dmsdk/internal/errors"
	"dmsdk/pkg/contracts/launcher"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// scriptedCaller returns canned answers per method and records params.
type scriptedCaller struct {
	mu      sync.Mutex
	answers map[string]func(params any) (json.RawMessage, error)
	params  map[string][]any
}

func newScriptedCaller() *scriptedCaller {
	return &scriptedCaller{
		answers: make(map[string]func(any) (json.RawMessage, error)),
		params:  make(map[string][]any),
	}
}

func (c *scriptedCaller) answer(method, raw string) {
	c.answers[method] = func(any) (json.RawMessage, error) { return json.RawMessage(raw), nil }
}

func (c *scriptedCaller) fail(method string, err error) {
	c.answers[method] = func(any) (json.RawMessage, error) { return nil, err }
}

func (c *scriptedCaller) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	c.params[method] = append(c.params[method], params)
	fn := c.answers[method]
	c.mu.Unlock()
	if fn == nil {
		return nil, updateErrors.NewCodeError(method, int(updateErrors.CodeInvalidRequest), "unknown method")
	}
	return fn(params)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw      string
		want     Status
		valid    bool
		terminal bool
	}{
		{"idle", StatusIdle, true, false},
		{"checking", StatusChecking, true, false},
		{"available", StatusAvailable, true, false},
		{"not_available", StatusNotAvailable, true, true},
		{"downloading", StatusDownloading, true, false},
		{"downloaded", StatusDownloaded, true, false},
		{"ready_to_install", StatusReadyToInstall, true, true},
		{"error", StatusError, true, true},
		{"installing", StatusUnknown, false, false},
		{"", StatusUnknown, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseStatus(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.valid, got.Valid())
			assert.Equal(t, tt.terminal, got.Terminal())
		})
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusIdle, StatusChecking, true},
		{StatusChecking, StatusAvailable, true},
		{StatusAvailable, StatusDownloading, true},
		{StatusDownloading, StatusDownloading, true},
		{StatusDownloading, StatusDownloaded, true},
		{StatusDownloaded, StatusReadyToInstall, true},
		{StatusDownloading, StatusError, true},
		{StatusIdle, StatusError, true},
		{StatusReadyToInstall, StatusError, false},
		{StatusIdle, StatusDownloaded, false},
		{StatusDownloaded, StatusDownloading, false},
		{StatusUnknown, StatusIdle, true},
		{StatusChecking, StatusUnknown, true},
		{Status("bogus"), StatusIdle, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to))
		})
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		want   *State
		wantOK bool
	}{
		{
			name:   "explicit detail",
			data:   `{"sequence":7,"status":"downloading","detail":{"percent":40}}`,
			want:   &State{Sequence: 7, Status: StatusDownloading, RawStatus: "downloading", Detail: map[string]any{"percent": json.Number("40")}},
			wantOK: true,
		},
		{
			name:   "flattened detail",
			data:   `{"sequence":3,"status":"available","version":"2.0.0"}`,
			want:   &State{Sequence: 3, Status: StatusAvailable, RawStatus: "available", Detail: map[string]any{"version": "2.0.0"}},
			wantOK: true,
		},
		{
			name:   "null detail",
			data:   `{"sequence":1,"status":"idle","detail":null}`,
			want:   &State{Sequence: 1, Status: StatusIdle, RawStatus: "idle"},
			wantOK: true,
		},
		{
			name:   "unknown status keeps raw value",
			data:   `{"sequence":9,"status":"verifying_package"}`,
			want:   &State{Sequence: 9, Status: StatusUnknown, RawStatus: "verifying_package"},
			wantOK: true,
		},
		{
			name:   "max sequence",
			data:   `{"sequence":18446744073709551615,"status":"idle"}`,
			want:   &State{Sequence: 18446744073709551615, Status: StatusIdle, RawStatus: "idle"},
			wantOK: true,
		},
		{name: "missing sequence", data: `{"status":"idle"}`},
		{name: "negative sequence", data: `{"sequence":-1,"status":"idle"}`},
		{name: "fractional sequence", data: `{"sequence":1.5,"status":"idle"}`},
		{name: "string sequence", data: `{"sequence":"4","status":"idle"}`},
		{name: "missing status", data: `{"sequence":4}`},
		{name: "detail not an object", data: `{"sequence":4,"status":"idle","detail":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ok := unwrapData(json.RawMessage(`{"data":` + tt.data + `}`))
			require.True(t, ok)

			got, ok := ParseState(data)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := ParseState(nil)
	assert.False(t, ok)
}

func TestTracker_FireAndObserve(t *testing.T) {
	caller := newScriptedCaller()
	caller.answer(launcher.MethodCheckForUpdates, `{"data":{"checking":true,"version":"2.0.0"}}`)
	caller.answer(launcher.MethodDownloadUpdate, `{"nope":{}}`)
	tracker := NewTracker(caller, WithLogger(quietLogger()))

	data, err := tracker.CheckForUpdates(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"checking": true, "version": "2.0.0"}, data)
	assert.Equal(t, []any{map[string]any{}}, caller.params[launcher.MethodCheckForUpdates])

	_, err = tracker.CheckForUpdates(context.Background(), map[string]any{"channel": "beta"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"channel": "beta"}, caller.params[launcher.MethodCheckForUpdates][1])

	data, err = tracker.DownloadUpdate(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, data, "an envelope without data is no answer")
}

func TestTracker_ErrorPolicy(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "launcher rejected request", err: updateErrors.NewCodeError("get_update_state", -3, "")},
		{name: "service unavailable", err: updateErrors.NewCodeError("get_update_state", -4, "")},
		{name: "protocol error", err: updateErrors.ErrMalformedEnvelope},
		{name: "not connected", err: updateErrors.ErrNotConnected, wantErr: true},
		{name: "connection closed", err: updateErrors.ErrConnectionClosed, wantErr: true},
		{name: "cancelled", err: context.Canceled, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newScriptedCaller()
			caller.fail(launcher.MethodGetUpdateState, tt.err)
			tracker := NewTracker(caller, WithLogger(quietLogger()))

			state, err := tracker.GetUpdateState(context.Background())
			assert.Nil(t, state)
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTracker_WaitForStateChange(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		last    uint64
		wantSeq uint64
		wantNil bool
	}{
		{name: "advanced", answer: `{"data":{"sequence":6,"status":"checking"}}`, last: 5, wantSeq: 6},
		{name: "jumped ahead", answer: `{"data":{"sequence":11,"status":"available"}}`, last: 5, wantSeq: 11},
		{name: "repeated sequence", answer: `{"data":{"sequence":5,"status":"checking"}}`, last: 5, wantNil: true},
		{name: "older sequence", answer: `{"data":{"sequence":2,"status":"idle"}}`, last: 5, wantNil: true},
		{name: "timeout without state", answer: `{"data":null}`, last: 5, wantNil: true},
		{name: "malformed", answer: `{"data":{"sequence":"x"}}`, last: 5, wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newScriptedCaller()
			caller.answer(launcher.MethodWaitForUpdateStateChange, tt.answer)
			tracker := NewTracker(caller, WithLogger(quietLogger()))

			state, err := tracker.WaitForStateChange(context.Background(), tt.last, 250*time.Millisecond)
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, state)
				return
			}
			require.NotNil(t, state)
			assert.Equal(t, tt.wantSeq, state.Sequence)
		})
	}
}

func TestTracker_WaitParams(t *testing.T) {
	caller := newScriptedCaller()
	caller.answer(launcher.MethodWaitForUpdateStateChange, `{"data":null}`)
	tracker := NewTracker(caller, WithLogger(quietLogger()))

	_, err := tracker.WaitForStateChange(context.Background(), 5, 1500*time.Millisecond)
	require.NoError(t, err)
	_, err = tracker.WaitForStateChange(context.Background(), 0, 0)
	require.NoError(t, err)

	params := caller.params[launcher.MethodWaitForUpdateStateChange]
	require.Len(t, params, 2)
	assert.Equal(t, launcher.WaitParams{LastSequence: 5, TimeoutMS: 1500}, params[0])
	assert.Equal(t, launcher.WaitParams{LastSequence: 0, TimeoutMS: 30000}, params[1])
}

func TestTracker_WaitAbandonedWhenLauncherOverruns(t *testing.T) {
	caller := newScriptedCaller()
	caller.answers[launcher.MethodWaitForUpdateStateChange] = func(any) (json.RawMessage, error) {
		return nil, context.DeadlineExceeded
	}
	tracker := NewTracker(caller, WithLogger(quietLogger()))

	_, err := tracker.WaitForStateChange(context.Background(), 1, time.Millisecond)
	require.Error(t, err)
	assert.True(t, updateErrors.IsKind(err, updateErrors.KindConnectivity))
}

func TestTracker_QuitAndInstall(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{name: "accepted", answer: `{"data":{"accepted":true}}`, want: true},
		{name: "refused", answer: `{"data":{"accepted":false}}`},
		{name: "flag missing", answer: `{"data":{}}`},
		{name: "flag not bool", answer: `{"data":{"accepted":"yes"}}`},
		{name: "malformed", answer: `{"data":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newScriptedCaller()
			caller.answer(launcher.MethodQuitAndInstall, tt.answer)
			tracker := NewTracker(caller, WithLogger(quietLogger()))

			accepted, err := tracker.QuitAndInstall(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, accepted)
		})
	}
}

func TestTracker_QuitAndInstallHardError(t *testing.T) {
	caller := newScriptedCaller()
	caller.fail(launcher.MethodQuitAndInstall, updateErrors.ErrNotConnected)
	tracker := NewTracker(caller, WithLogger(quietLogger()))

	accepted, err := tracker.QuitAndInstall(context.Background(), nil)
	assert.False(t, accepted)
	assert.True(t, errors.Is(err, updateErrors.ErrNotConnected))
}

func TestMetrics_NilSafe(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, m)

	var none *Metrics
	assert.NotPanics(t, func() {
		none.recordRequest(context.Background(), "x", true)
		none.recordPoll(context.Background(), outcomeTimeout, time.Second)
		none.recordChange(context.Background(), &State{Sequence: 1})
	})
}
