package launchersim

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dmsdk/internal/config"
	simErrors "dmsdk/internal/errors"
	"dmsdk/internal/infrastructure"
	"dmsdk/internal/license"
	"dmsdk/pkg/contracts/launcher"
)

// Tamper selects a deliberate fault in verify and activate responses.
type Tamper int

const (
	TamperNone Tamper = iota
	// TamperWrongNonce signs with a nonce other than the request's.
	TamperWrongNonce
	// TamperBadSignature flips a bit of the signature.
	TamperBadSignature
	// TamperSuccessFalse reports success=false with a valid signed object.
	TamperSuccessFalse
	// TamperMissingObject omits the signed object.
	TamperMissingObject
	// TamperAlterPayload changes a signed field after signing.
	TamperAlterPayload
)

var tamperNames = map[string]Tamper{
	"none":           TamperNone,
	"wrong-nonce":    TamperWrongNonce,
	"bad-signature":  TamperBadSignature,
	"success-false":  TamperSuccessFalse,
	"missing-object": TamperMissingObject,
	"alter-payload":  TamperAlterPayload,
}

// ParseTamper maps a CLI name onto a Tamper.
func ParseTamper(name string) (Tamper, bool) {
	t, ok := tamperNames[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Config configures a Simulator.
type Config struct {
	// Signer signs responses. A 2048-bit key is generated when nil.
	Signer *license.Signer
	AppID  string
	// Version is reported by the version method.
	Version string
	// LicenseValid is the valid flag of verification objects until an
	// activation succeeds.
	LicenseValid bool
	// ActivateAfter is the attempt from which activation succeeds. Zero
	// means the first attempt; a negative value never activates.
	ActivateAfter int
	Online        bool
	Tamper        Tamper
	// UpdateVersion is offered by check_for_updates. Empty means no update.
	UpdateVersion string
	// StepDelay paces the automatic download progression. Zero leaves the
	// lifecycle after "downloading" to Advance.
	StepDelay time.Duration
	Logger    *slog.Logger
}

// Simulator implements pipe.Handler.
type Simulator struct {
	cfg    Config
	signer *license.Signer
	logger *slog.Logger

	mu          sync.Mutex
	tamper      Tamper
	valid       bool
	attempts    int
	activated   bool
	initiated   bool
	quit        bool
	sequence    uint64
	status      string
	detail      map[string]any
	changed     chan struct{}
	lastNonce   string
	methodCount map[string]int

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a simulator in the idle update state with sequence 1.
func New(cfg Config) (*Simulator, error) {
	signer := cfg.Signer
	if signer == nil {
		var err error
		if signer, err = license.GenerateSigner(license.MinKeyBits); err != nil {
			return nil, err
		}
	}
	if cfg.AppID == "" {
		cfg.AppID = "dmsdk-demo"
	}
	if cfg.Version == "" {
		cfg.Version = config.AppVersion
	}

	return &Simulator{
		cfg:         cfg,
		signer:      signer,
		logger:      infrastructure.ComponentLogger(cfg.Logger, "launcher_sim"),
		tamper:      cfg.Tamper,
		valid:       cfg.LicenseValid,
		sequence:    1,
		status:      "idle",
		detail:      map[string]any{},
		changed:     make(chan struct{}),
		methodCount: make(map[string]int),
		stop:        make(chan struct{}),
	}, nil
}

// Signer returns the signing key; its public half is what clients verify
// against.
func (s *Simulator) Signer() *license.Signer { return s.signer }

// Close stops background lifecycle progression.
func (s *Simulator) Close() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// SetTamper switches the fault mode for subsequent responses.
func (s *Simulator) SetTamper(t Tamper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tamper = t
}

// SetLicenseValid changes the valid flag reported by verify.
func (s *Simulator) SetLicenseValid(valid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = valid
}

// ActivationAttempts returns the number of activate requests seen.
func (s *Simulator) ActivationAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Initiated reports whether the application sent initiated.
func (s *Simulator) Initiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiated
}

// QuitRequested reports whether quit_and_install was accepted.
func (s *Simulator) QuitRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quit
}

// Calls returns how many times method was served.
func (s *Simulator) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.methodCount[method]
}

// ServeLauncher answers one request.
func (s *Simulator) ServeLauncher(ctx context.Context, method string, params json.RawMessage) (any, error) {
	s.mu.Lock()
	s.methodCount[method]++
	s.mu.Unlock()

	s.logger.Debug("Serving launcher request", slog.String("method", method))

	switch method {
	case launcher.MethodVerify, launcher.MethodActivate:
		var p launcher.ChallengeParams
		if err := json.Unmarshal(params, &p); err != nil || !validNonce(p.Nonce) {
			return nil, simErrors.NewCodeError(method, int(simErrors.CodeInvalidRequest), "nonce_str must be 32 lowercase hex characters")
		}
		if method == launcher.MethodVerify {
			return s.verify(p.Nonce)
		}
		return s.activate(p.Nonce)
	case launcher.MethodInitiated:
		s.mu.Lock()
		s.initiated = true
		s.mu.Unlock()
		return wrap(launcher.InitiatedResult{Acknowledged: true}), nil
	case launcher.MethodVersion:
		return wrap(launcher.VersionResult{Version: s.cfg.Version}), nil
	case launcher.MethodCheckForUpdates:
		return s.checkForUpdates(), nil
	case launcher.MethodDownloadUpdate:
		return s.downloadUpdate(), nil
	case launcher.MethodGetUpdateState:
		s.mu.Lock()
		defer s.mu.Unlock()
		return wrap(s.stateLocked()), nil
	case launcher.MethodWaitForUpdateStateChange:
		var p launcher.WaitParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, simErrors.NewCodeError(method, int(simErrors.CodeInvalidRequest), "invalid wait parameters")
			}
		}
		return s.wait(ctx, p), nil
	case launcher.MethodQuitAndInstall:
		return s.quitAndInstall(), nil
	default:
		return nil, simErrors.NewCodeError(method, int(simErrors.CodeInvalidRequest), "unknown method")
	}
}

func wrap(data any) map[string]any {
	return map[string]any{"data": data}
}

func validNonce(n string) bool {
	if len(n) != 2*license.NonceSize || strings.ToLower(n) != n {
		return false
	}
	_, err := hex.DecodeString(n)
	return err == nil
}

func (s *Simulator) verify(nonce string) (any, error) {
	s.mu.Lock()
	valid := s.valid || s.activated
	tamper := s.tamper
	s.lastNonce = nonce
	s.mu.Unlock()

	payload := map[string]any{
		"valid":        valid,
		"app_id":       s.cfg.AppID,
		"license_type": "subscription",
		"checked_at":   time.Now().UTC().Format(time.RFC3339),
	}
	data, err := s.signed("verification", payload, nonce, tamper)
	if err != nil {
		return nil, err
	}
	data["is_online"] = s.cfg.Online
	return wrap(data), nil
}

func (s *Simulator) activate(nonce string) (any, error) {
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	tamper := s.tamper
	threshold := s.cfg.ActivateAfter
	if threshold == 0 {
		threshold = 1
	}
	ok := threshold > 0 && attempt >= threshold
	if ok && tamper == TamperNone {
		s.activated = true
	}
	s.mu.Unlock()

	if !ok {
		return wrap(map[string]any{"success": false, "message": "activation pending"}), nil
	}

	payload := map[string]any{
		"activated":     true,
		"app_id":        s.cfg.AppID,
		"activation_id": uuid.NewString(),
		"activated_at":  time.Now().UTC().Format(time.RFC3339),
	}
	data, err := s.signed("activation", payload, nonce, tamper)
	if err != nil {
		return nil, err
	}
	return wrap(data), nil
}

// signed builds {"success":true, field: signed} and applies tamper.
func (s *Simulator) signed(field string, payload map[string]any, nonce string, tamper Tamper) (map[string]any, error) {
	signNonce := nonce
	if tamper == TamperWrongNonce {
		signNonce = strings.Repeat("0", 2*license.NonceSize)
	}
	obj, err := s.signer.Sign(payload, signNonce)
	if err != nil {
		return nil, err
	}

	data := map[string]any{"success": true, field: obj}
	switch tamper {
	case TamperBadSignature:
		sig := []byte(obj[license.SignatureField].(string))
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		obj[license.SignatureField] = string(sig)
	case TamperSuccessFalse:
		data["success"] = false
	case TamperMissingObject:
		delete(data, field)
	case TamperAlterPayload:
		obj["app_id"] = "tampered"
	}
	return data, nil
}
