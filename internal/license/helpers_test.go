package license

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dmsdk/pkg/contracts/launcher"
)

var (
	sharedSignerOnce sync.Once
	sharedSigner     *Signer
	sharedSignerErr  error
)

// testSigner returns one 2048-bit signer per test binary; key generation is
// the slowest part of these tests.
func testSigner(t *testing.T) *Signer {
	t.Helper()
	sharedSignerOnce.Do(func() {
		sharedSigner, sharedSignerErr = GenerateSigner(2048)
	})
	require.NoError(t, sharedSignerErr)
	return sharedSigner
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func fixedNonce(n string) NonceFunc {
	return func() (string, error) { return n, nil }
}

var (
	nonceA = strings.Repeat("de", 16)
	nonceB = strings.Repeat("0", 32)
)

// fakeLauncher answers verify and activate like a real launcher, with hooks
// to corrupt the response at the object or byte level.
type fakeLauncher struct {
	mu sync.Mutex

	signer        *Signer
	verifyValid   bool
	online        *bool
	activateAfter int // activation succeeds from this attempt on; 0 never

	// signNonce overrides the nonce the launcher signs with.
	signNonce  string
	tamperData func(method string, data map[string]any)
	tamperRaw  func(raw []byte) []byte
	onCall     func(method string, attempt int)
	callErr    error

	connected   bool
	connectErr  error
	connects    int
	verifyCalls int
	activations int
	nonces      []string
}

func (f *fakeLauncher) Connect(ctx context.Context, endpoint string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeLauncher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeLauncher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeLauncher) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	challenge, ok := params.(launcher.ChallengeParams)
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	f.nonces = append(f.nonces, challenge.Nonce)

	attempt := 0
	switch method {
	case launcher.MethodVerify:
		f.verifyCalls++
		attempt = f.verifyCalls
	case launcher.MethodActivate:
		f.activations++
		attempt = f.activations
	}
	if f.onCall != nil {
		f.onCall(method, attempt)
	}
	if f.callErr != nil {
		return nil, f.callErr
	}

	nonce := challenge.Nonce
	if f.signNonce != "" {
		nonce = f.signNonce
	}

	data := map[string]any{"success": true}
	switch method {
	case launcher.MethodVerify:
		signed, err := f.signer.Sign(map[string]any{"valid": f.verifyValid, "app_id": "demo"}, nonce)
		if err != nil {
			return nil, err
		}
		data["verification"] = signed
		if f.online != nil {
			data["is_online"] = *f.online
		}
	case launcher.MethodActivate:
		if f.activateAfter == 0 || attempt < f.activateAfter {
			data["success"] = false
			break
		}
		signed, err := f.signer.Sign(map[string]any{"activated": true, "seats": 3}, nonce)
		if err != nil {
			return nil, err
		}
		data["activation"] = signed
	}

	if f.tamperData != nil {
		f.tamperData(method, data)
	}
	raw, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return nil, err
	}
	if f.tamperRaw != nil {
		raw = f.tamperRaw(raw)
	}
	return raw, nil
}

func (f *fakeLauncher) counts() (verify, activate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls, f.activations
}

// mockSession is used where only the interaction with the session matters.
type mockSession struct {
	mock.Mock
}

func (m *mockSession) Connect(ctx context.Context, endpoint string, timeout time.Duration) error {
	return m.Called(ctx, endpoint, timeout).Error(0)
}

func (m *mockSession) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	args := m.Called(ctx, method, params)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *mockSession) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *mockSession) Close() error {
	return m.Called().Error(0)
}

func boolPtr(b bool) *bool { return &b }
