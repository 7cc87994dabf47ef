//go:build !windows

package dmapi

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dmerrors "dmsdk/internal/errors"
	"dmsdk/internal/launchersim"
	"dmsdk/internal/license"
	"dmsdk/internal/updater"
	"dmsdk/pkg/contracts"
)

var (
	signerOnce sync.Once
	testSigner *license.Signer
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func sharedSigner() *license.Signer {
	signerOnce.Do(func() {
		var err error
		testSigner, err = license.GenerateSigner(2048)
		if err != nil {
			panic(err)
		}
	})
	return testSigner
}

func publicKeyPEM(t *testing.T, signer *license.Signer) string {
	t.Helper()
	pemText, err := signer.PublicKeyPEM()
	require.NoError(t, err)
	return pemText
}

func fastRetry() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
		MaxAttempts:     4,
		MaxElapsed:      5 * time.Second,
	}
}

// startSim serves a simulator on a temporary unix socket until the test
// ends and returns it with its endpoint.
func startSim(t *testing.T, cfg launchersim.Config) (*launchersim.Simulator, string) {
	t.Helper()
	cfg.Signer = sharedSigner()
	cfg.Logger = quietLogger()
	sim, err := launchersim.New(cfg)
	require.NoError(t, err)

	dir, err := os.MkdirTemp("", "dmapi")
	require.NoError(t, err)
	endpoint := filepath.Join(dir, "l.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.ListenAndServe(ctx, endpoint) }()
	require.Eventually(t, func() bool {
		_, err := os.Stat(endpoint)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		<-done
		sim.Close()
		os.RemoveAll(dir)
	})
	return sim, endpoint
}

func newAPI(t *testing.T, opts ...Option) *API {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithRetryPolicy(fastRetry())}, opts...)
	api, err := New(publicKeyPEM(t, sharedSigner()), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { api.Close() })
	return api
}

func connectedAPI(t *testing.T, cfg launchersim.Config) (*API, *launchersim.Simulator) {
	t.Helper()
	sim, endpoint := startSim(t, cfg)
	api := newAPI(t)
	require.NoError(t, api.Connect(context.Background(), endpoint, 0))
	return api, sim
}

func TestNew_RejectsUnusableKey(t *testing.T) {
	tests := []struct {
		name string
		pem  string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"not pem", "public key"},
		{"wrong block", "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, err := New(tt.pem)
			assert.Nil(t, api)
			assert.True(t, dmerrors.IsKind(err, dmerrors.KindConfiguration), "got %v", err)
		})
	}
}

func TestVerifyAndActivate(t *testing.T) {
	tests := []struct {
		name         string
		cfg          launchersim.Config
		wantSuccess  bool
		wantError    string
		wantAttempts int
	}{
		{
			name:         "already licensed",
			cfg:          launchersim.Config{LicenseValid: true},
			wantSuccess:  true,
			wantAttempts: 0,
		},
		{
			name:         "activates on second attempt",
			cfg:          launchersim.Config{ActivateAfter: 2},
			wantSuccess:  true,
			wantAttempts: 2,
		},
		{
			name:         "never activates",
			cfg:          launchersim.Config{ActivateAfter: -1},
			wantError:    license.MsgNotActivated,
			wantAttempts: 4,
		},
		{
			name:         "replayed nonce",
			cfg:          launchersim.Config{Tamper: launchersim.TamperWrongNonce},
			wantError:    license.MsgNotActivated,
			wantAttempts: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, endpoint := startSim(t, tt.cfg)
			api := newAPI(t, WithEndpoint(endpoint))

			res := api.VerifyAndActivate(context.Background(), 0)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantError, res.Error)
			assert.Equal(t, tt.wantAttempts, sim.ActivationAttempts())
			assert.True(t, api.IsConnected())
		})
	}
}

func TestVerifyAndActivate_ReadsPipeEnv(t *testing.T) {
	_, endpoint := startSim(t, launchersim.Config{})
	t.Setenv(PipeEnv, endpoint)

	recorder := NewStatusRecorder()
	api := newAPI(t, WithStatusRecorder(recorder))
	assert.Equal(t, endpoint, api.Endpoint())

	res := api.VerifyAndActivate(context.Background(), time.Second)
	require.True(t, res.Success, res.Error)

	status := recorder.Snapshot()
	assert.True(t, status.Success)
	assert.True(t, status.Activated)
	assert.Equal(t, 1, status.Attempts)
}

func TestVerifyAndActivate_ConnectionProblems(t *testing.T) {
	t.Run("no endpoint", func(t *testing.T) {
		t.Setenv(PipeEnv, "")
		res := newAPI(t).VerifyAndActivate(context.Background(), 0)
		assert.Equal(t, Result{Error: license.MsgEndpointMissing}, res)
	})

	missing := filepath.Join(t.TempDir(), "absent.sock")
	for _, timeout := range []time.Duration{0, 100 * time.Millisecond} {
		t.Run("unreachable/"+timeout.String(), func(t *testing.T) {
			res := newAPI(t, WithEndpoint(missing)).VerifyAndActivate(context.Background(), timeout)
			assert.Equal(t, Result{Error: license.MsgConnectFailed}, res)
		})
	}
}

// startMuteLauncher accepts connections and reads requests without ever
// answering.
func startMuteLauncher(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "mute")
	require.NoError(t, err)
	endpoint := filepath.Join(dir, "l.sock")
	ln, err := net.Listen("unix", endpoint)
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		os.RemoveAll(dir)
	})
	return endpoint
}

func TestVerifyAndActivate_UnresponsiveLauncher(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		timeout time.Duration
	}{
		{name: "connect timeout bounds requests", timeout: 200 * time.Millisecond},
		{name: "request timeout", opts: []Option{WithRequestTimeout(150 * time.Millisecond)}, timeout: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint := startMuteLauncher(t)
			api := newAPI(t, append([]Option{WithEndpoint(endpoint)}, tt.opts...)...)

			done := make(chan Result, 1)
			go func() { done <- api.VerifyAndActivate(context.Background(), tt.timeout) }()

			select {
			case res := <-done:
				assert.Equal(t, Result{Error: license.MsgConnectFailed}, res)
			case <-time.After(5 * time.Second):
				t.Fatal("VerifyAndActivate did not return for a launcher that never answers")
			}
			assert.False(t, api.IsConnected())
		})
	}
}

func TestVerifyLicense_UnresponsiveLauncher(t *testing.T) {
	endpoint := startMuteLauncher(t)
	api := newAPI(t)
	require.NoError(t, api.Connect(context.Background(), endpoint, 100*time.Millisecond))

	start := time.Now()
	_, err := api.VerifyLicense(context.Background())
	require.Error(t, err)
	assert.True(t, dmerrors.IsKind(err, dmerrors.KindConnectivity))
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestVerifyAndActivate_ForeignKey(t *testing.T) {
	_, endpoint := startSim(t, launchersim.Config{LicenseValid: true})

	other, err := license.GenerateSigner(2048)
	require.NoError(t, err)
	api, err := New(publicKeyPEM(t, other),
		WithLogger(quietLogger()),
		WithRetryPolicy(fastRetry()),
		WithEndpoint(endpoint),
	)
	require.NoError(t, err)
	defer api.Close()

	res := api.VerifyAndActivate(context.Background(), 0)
	assert.False(t, res.Success)
	assert.Equal(t, license.MsgNotActivated, res.Error)
}

func TestVerifyAndActivate_Cancelled(t *testing.T) {
	_, endpoint := startSim(t, launchersim.Config{ActivateAfter: -1})
	api := newAPI(t,
		WithEndpoint(endpoint),
		WithRetryPolicy(RetryPolicy{InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 1, MaxAttempts: 3}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	res := api.VerifyAndActivate(ctx, 0)
	assert.Equal(t, Result{Error: license.MsgActivationCancel}, res)
}

func TestVerifyLicense_SignedObject(t *testing.T) {
	api, _ := connectedAPI(t, launchersim.Config{LicenseValid: true, Online: true, AppID: "app-1"})

	res, err := api.VerifyLicense(context.Background())
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.True(t, res.LicenseValid())
	assert.Equal(t, "app-1", res.Verification.String("app_id"))
	require.NotNil(t, res.IsOnline)
	assert.True(t, *res.IsOnline)

	m := res.Map()
	assert.Equal(t, true, m["success"])
	assert.Equal(t, true, m["is_online"])
	assert.Contains(t, m["verification"], "signature")
}

func TestActivateLicense(t *testing.T) {
	api, sim := connectedAPI(t, launchersim.Config{})

	res, err := api.ActivateLicense(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Activated)
	assert.True(t, res.Activation.Bool("activated"))

	sim.SetTamper(launchersim.TamperBadSignature)
	res, err = api.ActivateLicense(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActivateResult{}, res)
}

func TestCallsWithoutConnection(t *testing.T) {
	api := newAPI(t)
	ctx := context.Background()

	_, err := api.VerifyLicense(ctx)
	assert.ErrorIs(t, err, dmerrors.ErrNotConnected)
	_, err = api.GetUpdateState(ctx)
	assert.ErrorIs(t, err, dmerrors.ErrNotConnected)
	assert.ErrorIs(t, api.Initiated(ctx), dmerrors.ErrNotConnected)
	_, err = api.Version(ctx)
	assert.ErrorIs(t, err, dmerrors.ErrNotConnected)
	assert.False(t, api.IsConnected())
}

func TestInitiatedAndVersion(t *testing.T) {
	api, sim := connectedAPI(t, launchersim.Config{Version: "3.1.4"})
	ctx := context.Background()

	require.NoError(t, api.Initiated(ctx))
	assert.True(t, sim.Initiated())

	version, err := api.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.1.4", version)
	assert.Equal(t, contracts.Version, LibraryVersion())
}

func TestUpdateLifecycle(t *testing.T) {
	api, sim := connectedAPI(t, launchersim.Config{UpdateVersion: "2.0.0"})
	ctx := context.Background()

	state, err := api.GetUpdateState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, updater.StatusIdle, state.Status)
	start := state.Sequence

	data, err := api.CheckForUpdate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, true, data["update_available"])

	changed, err := api.WaitForUpdateStateChange(ctx, start, time.Second)
	require.NoError(t, err)
	require.NotNil(t, changed)
	assert.Equal(t, updater.StatusAvailable, changed.Status)
	assert.Equal(t, "2.0.0", changed.Detail["version"])

	none, err := api.WaitForUpdateStateChange(ctx, changed.Sequence, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, none)

	accepted, err := api.QuitAndInstall(ctx, nil)
	require.NoError(t, err)
	assert.False(t, accepted, "nothing downloaded yet")

	data, err = api.DownloadUpdate(ctx, map[string]any{"channel": "stable"})
	require.NoError(t, err)
	assert.Equal(t, true, data["started"])

	sim.Advance("ready_to_install", map[string]any{"version": "2.0.0"})
	accepted, err = api.QuitAndInstall(ctx, nil)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.True(t, sim.QuitRequested())
}

func TestWatch(t *testing.T) {
	api, sim := connectedAPI(t, launchersim.Config{UpdateVersion: "2.0.0", StepDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []UpdateState
	)
	done := make(chan error, 1)
	go func() {
		done <- api.Watch(ctx, WatchOptions{MinInterval: time.Millisecond, Timeout: time.Second},
			func(_ context.Context, s UpdateState) {
				mu.Lock()
				seen = append(seen, s)
				mu.Unlock()
				switch s.Status {
				case updater.StatusIdle:
					go sim.Advance("available", map[string]any{"version": "2.0.0"})
				case updater.StatusReadyToInstall:
					cancel()
				}
			})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1].Status == updater.StatusAvailable
	}, 3*time.Second, 5*time.Millisecond)

	// Download on a separate connection; the watcher's long-poll holds this one.
	other := newAPI(t)
	require.NoError(t, other.Connect(context.Background(), api.session.Endpoint(), 0))
	_, err := other.DownloadUpdate(context.Background(), nil)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not reach ready_to_install")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, updater.StatusIdle, seen[0].Status)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Sequence, seen[i-1].Sequence)
	}
	assert.Equal(t, updater.StatusReadyToInstall, seen[len(seen)-1].Status)
}

func TestJSONToCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"sorts keys", `{"b":1,"a":2}`, `{"a":2,"b":1}`, true},
		{"nested", `{"z":{"y":[true,null],"x":"s"}}`, `{"z":{"x":"s","y":[true,null]}}`, true},
		{"whitespace", " { \"a\" : [ 1 , 2 ] } ", `{"a":[1,2]}`, true},
		{"scalar", `"text"`, `"text"`, true},
		{"invalid", `{"a":`, "", false},
		{"empty", ``, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := JSONToCanonical(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONToCanonical_OrderIndependent(t *testing.T) {
	a, okA := JSONToCanonical(`{"valid":true,"nonce_str":"deadbeef","app":{"id":1,"name":"x"}}`)
	b, okB := JSONToCanonical(`{"app":{"name":"x","id":1},"nonce_str":"deadbeef","valid":true}`)
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, a, b)
}
