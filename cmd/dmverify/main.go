package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"dmsdk/internal/app"
	"dmsdk/internal/config"
	"dmsdk/internal/infrastructure"
	"dmsdk/internal/license"
	httpserver "dmsdk/internal/transport/http"
	"dmsdk/pkg/dmapi"
)

var flagConfig = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{config.ConfigFileEnv},
	Usage:   "YAML configuration file",
}

var flagPipe = &cli.StringFlag{
	Name:    "pipe",
	EnvVars: []string{config.PipeEnv},
	Usage:   "launcher endpoint: a socket path, unix://path, tcp://host:port or a pipe name on Windows",
}

var flagServe = &cli.BoolFlag{
	Name:  "serve",
	Usage: "run the local status server after the license check",
}

var flagStatusAddr = &cli.StringFlag{
	Name:  "status-addr",
	Usage: "status server listen address (overrides status.addr)",
}

var flagWatch = &cli.BoolFlag{
	Name:  "watch",
	Usage: "follow update states after the license check",
}

var errNotCanonical = errors.New("input has no canonical JSON form")

const usage = `checks the application license with the launcher and drives its updater`

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dmverify:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "dmverify",
		Usage:   usage,
		Version: config.AppVersion,
		Flags: []cli.Flag{
			flagConfig,
			flagPipe,
		},
		Commands: []*cli.Command{
			{
				Name:        "verify",
				Usage:       "verify the license, activating it when needed",
				Description: "Connects to the launcher, verifies the license and activates it with backoff. With --serve or --watch it keeps running until interrupted.",
				Flags: []cli.Flag{
					flagServe,
					flagStatusAddr,
					flagWatch,
				},
				Action: runVerify,
			},
			updatesCommand(),
			{
				Name:      "canonical",
				Usage:     "print the canonical form of a JSON document",
				ArgsUsage: "[file]",
				Action:    runCanonical,
			},
			{
				Name:  "version",
				Usage: "print the SDK and launcher versions",
				Action: withAPI(func(ctx context.Context, cCtx *cli.Context, api *dmapi.API, _ *config.Config) error {
					launcherVersion, err := api.Version(ctx)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, map[string]string{
						"sdk":      dmapi.LibraryVersion(),
						"launcher": launcherVersion,
					})
				}),
			},
		},
	}
}

func runVerify(cCtx *cli.Context) error {
	overrides := func(cfg *config.Config) {
		if cCtx.IsSet(flagPipe.Name) {
			cfg.Pipe = cCtx.String(flagPipe.Name)
		}
		if cCtx.Bool(flagServe.Name) {
			cfg.Status.Enabled = true
		}
		if addr := cCtx.String(flagStatusAddr.Name); addr != "" {
			cfg.Status.Addr = addr
		}
		if cCtx.Bool(flagWatch.Name) {
			cfg.Updates.Watch = true
		}
	}

	application, err := app.NewApplication(cCtx.String(flagConfig.Name), overrides)
	if err != nil {
		return err
	}
	defer infrastructure.CloseLogFile()

	if err := application.Run(cCtx.Context); err != nil {
		return err
	}
	return printJSON(cCtx.App.Writer, httpserver.LicenseStatusResponse(application.License.Snapshot()))
}

func runCanonical(cCtx *cli.Context) error {
	in := cCtx.App.Reader
	if path := cCtx.Args().First(); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	out, ok := dmapi.JSONToCanonical(string(data))
	if !ok {
		return errNotCanonical
	}
	_, err = fmt.Fprintln(cCtx.App.Writer, out)
	return err
}

// connect loads the configuration and opens a launcher connection for a
// one-shot command. Logs go to stderr so stdout only carries results.
func connect(ctx context.Context, cCtx *cli.Context) (*dmapi.API, *config.Config, error) {
	cfg, err := config.LoadFrom(cCtx.String(flagConfig.Name))
	if err != nil {
		return nil, nil, err
	}
	if cCtx.IsSet(flagPipe.Name) {
		cfg.Pipe = cCtx.String(flagPipe.Name)
	}

	logger, err := infrastructure.NewLogger(cfg.Logging, cCtx.App.ErrWriter)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := cfg.PublicKeyPEM()
	if err != nil {
		return nil, nil, err
	}

	api, err := dmapi.New(keyPEM,
		dmapi.WithLogger(logger),
		dmapi.WithEndpoint(cfg.Pipe),
		dmapi.WithConnectTimeout(cfg.ConnectTimeout),
		dmapi.WithRequestTimeout(cfg.RequestTimeout),
		dmapi.WithRetryPolicy(license.RetryPolicyFrom(cfg.Retry)),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := api.Connect(ctx, api.Endpoint(), cfg.ConnectTimeout); err != nil {
		logger.Error("Failed to connect to launcher",
			slog.String("endpoint", api.Endpoint()),
			slog.String("error", err.Error()),
		)
		return nil, nil, err
	}
	return api, cfg, nil
}

func signalContext(cCtx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
