package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/urfave/cli/v2"

	"dmsdk/internal/config"
	"dmsdk/internal/infrastructure"
	"dmsdk/internal/launchersim"
	"dmsdk/internal/license"
)

var (
	flagEndpoint = &cli.StringFlag{
		Name:    "endpoint",
		EnvVars: []string{config.PipeEnv},
		Value:   defaultEndpoint(),
		Usage:   "where to listen: a socket path, unix://path, tcp://host:port or a pipe name on Windows",
	}
	flagKeyFile = &cli.StringFlag{
		Name:  "key-file",
		Usage: "PEM private key used to sign responses; generated and saved here when missing",
	}
	flagPublicKeyOut = &cli.StringFlag{
		Name:  "public-key-out",
		Usage: "write the public key PEM to this file for the application to verify against",
	}
	flagAppID = &cli.StringFlag{
		Name:  "app-id",
		Value: "dmsdk-demo",
	}
	flagVersion = &cli.StringFlag{
		Name:  "launcher-version",
		Usage: "version reported to the application",
	}
	flagLicenseValid = &cli.BoolFlag{
		Name:  "license-valid",
		Usage: "report the license as valid before any activation",
	}
	flagActivateAfter = &cli.IntFlag{
		Name:  "activate-after",
		Usage: "activation succeeds from this attempt; negative never activates",
	}
	flagOnline = &cli.BoolFlag{
		Name:  "online",
		Value: true,
	}
	flagTamper = &cli.StringFlag{
		Name:  "tamper",
		Value: "none",
		Usage: "fault injected into license responses: none, wrong-nonce, bad-signature, success-false, missing-object, alter-payload",
	}
	flagUpdateVersion = &cli.StringFlag{
		Name:  "update-version",
		Usage: "version offered by check_for_updates; empty means up to date",
	}
	flagStepDelay = &cli.DurationFlag{
		Name:  "step-delay",
		Usage: "pace of the simulated download; 0 stops at downloading",
	}
	flagLogLevel = &cli.StringFlag{
		Name:  "log-level",
		Value: "info",
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "launcher-sim:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "launcher-sim",
		Usage:   "serve a launcher that licenses and updates applications, for local development",
		Version: config.AppVersion,
		Flags: []cli.Flag{
			flagEndpoint,
			flagKeyFile,
			flagPublicKeyOut,
			flagAppID,
			flagVersion,
			flagLicenseValid,
			flagActivateAfter,
			flagOnline,
			flagTamper,
			flagUpdateVersion,
			flagStepDelay,
			flagLogLevel,
		},
		Action: run,
	}
}

func run(cCtx *cli.Context) error {
	logCfg := config.Default().Logging
	logCfg.Level = cCtx.String(flagLogLevel.Name)
	logger, err := infrastructure.NewLogger(logCfg, cCtx.App.ErrWriter)
	if err != nil {
		return err
	}

	tamper, ok := launchersim.ParseTamper(cCtx.String(flagTamper.Name))
	if !ok {
		return fmt.Errorf("unknown --tamper %q", cCtx.String(flagTamper.Name))
	}

	signer, err := loadSigner(cCtx.String(flagKeyFile.Name), logger)
	if err != nil {
		return err
	}
	if out := cCtx.String(flagPublicKeyOut.Name); out != "" {
		if err := writePublicKey(signer, out); err != nil {
			return err
		}
		logger.Info("Public key written", slog.String("path", out))
	}

	sim, err := launchersim.New(launchersim.Config{
		Signer:        signer,
		AppID:         cCtx.String(flagAppID.Name),
		Version:       cCtx.String(flagVersion.Name),
		LicenseValid:  cCtx.Bool(flagLicenseValid.Name),
		ActivateAfter: cCtx.Int(flagActivateAfter.Name),
		Online:        cCtx.Bool(flagOnline.Name),
		Tamper:        tamper,
		UpdateVersion: cCtx.String(flagUpdateVersion.Name),
		StepDelay:     cCtx.Duration(flagStepDelay.Name),
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer sim.Close()

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint := cCtx.String(flagEndpoint.Name)
	logger.Info("Point applications at the simulator",
		slog.String("env", config.PipeEnv+"="+endpoint),
	)
	return sim.ListenAndServe(ctx, endpoint)
}

// loadSigner reads the key at path, creating it when the file does not
// exist. An empty path yields a throwaway key.
func loadSigner(path string, logger *slog.Logger) (*license.Signer, error) {
	if path == "" {
		return license.GenerateSigner(license.MinKeyBits)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return license.ParseSigner(string(data))
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	signer, err := license.GenerateSigner(license.MinKeyBits)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(signer.PrivateKeyPEM()), 0o600); err != nil {
		return nil, err
	}
	logger.Info("Generated signing key", slog.String("path", path))
	return signer, nil
}

func writePublicKey(signer *license.Signer, path string) error {
	pemText, err := signer.PublicKeyPEM()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(pemText), 0o644)
}

func defaultEndpoint() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\dm-launcher-sim`
	}
	return filepath.Join(os.TempDir(), "dm-launcher-sim.sock")
}
