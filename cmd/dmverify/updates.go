package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"dmsdk/internal/config"
	"dmsdk/pkg/dmapi"
)

// apiAction is a command body that runs with a connected API.
type apiAction func(ctx context.Context, cCtx *cli.Context, api *dmapi.API, cfg *config.Config) error

func withAPI(action apiAction) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		ctx, stop := signalContext(cCtx)
		defer stop()
		api, cfg, err := connect(ctx, cCtx)
		if err != nil {
			return err
		}
		defer api.Close()
		return action(ctx, cCtx, api, cfg)
	}
}

var flagFrom = &cli.Uint64Flag{
	Name:  "from",
	Usage: "last sequence already seen; 0 starts from the current state",
}

var flagUntilTerminal = &cli.BoolFlag{
	Name:  "until-terminal",
	Usage: "stop after a terminal state (not_available, ready_to_install, error)",
}

var flagOptions = &cli.StringFlag{
	Name:  "options",
	Usage: "JSON object forwarded to the launcher",
}

func updatesCommand() *cli.Command {
	return &cli.Command{
		Name:  "updates",
		Usage: "drive the launcher updater",
		Subcommands: []*cli.Command{
			{
				Name:  "state",
				Usage: "print the current update state",
				Action: withAPI(func(ctx context.Context, cCtx *cli.Context, api *dmapi.API, _ *config.Config) error {
					state, err := api.GetUpdateState(ctx)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, state)
				}),
			},
			{
				Name:  "check",
				Usage: "ask the launcher to check for an update",
				Flags: []cli.Flag{flagOptions},
				Action: withAPI(func(ctx context.Context, cCtx *cli.Context, api *dmapi.API, _ *config.Config) error {
					options, err := parseOptions(cCtx)
					if err != nil {
						return err
					}
					data, err := api.CheckForUpdates(ctx, options)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, data)
				}),
			},
			{
				Name:  "download",
				Usage: "ask the launcher to download the available update",
				Flags: []cli.Flag{flagOptions},
				Action: withAPI(func(ctx context.Context, cCtx *cli.Context, api *dmapi.API, _ *config.Config) error {
					options, err := parseOptions(cCtx)
					if err != nil {
						return err
					}
					data, err := api.DownloadUpdate(ctx, options)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, data)
				}),
			},
			{
				Name:  "install",
				Usage: "quit the application and install the downloaded update",
				Flags: []cli.Flag{flagOptions},
				Action: withAPI(func(ctx context.Context, cCtx *cli.Context, api *dmapi.API, _ *config.Config) error {
					options, err := parseOptions(cCtx)
					if err != nil {
						return err
					}
					accepted, err := api.QuitAndInstall(ctx, options)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, map[string]bool{"accepted": accepted})
				}),
			},
			{
				Name:  "watch",
				Usage: "print every update state change as a JSON line",
				Flags: []cli.Flag{flagFrom, flagUntilTerminal},
				Action: withAPI(runWatch),
			},
		},
	}
}

func runWatch(ctx context.Context, cCtx *cli.Context, api *dmapi.API, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	enc := json.NewEncoder(cCtx.App.Writer)
	untilTerminal := cCtx.Bool(flagUntilTerminal.Name)
	opts := dmapi.WatchOptions{
		From:        cCtx.Uint64(flagFrom.Name),
		MinInterval: cfg.Updates.MinPollInterval,
		Timeout:     cfg.WaitTimeout,
	}
	return api.Watch(ctx, opts, func(_ context.Context, state dmapi.UpdateState) {
		if err := enc.Encode(state); err != nil {
			cancel()
			return
		}
		if untilTerminal && state.Status.Terminal() {
			cancel()
		}
	})
}

func parseOptions(cCtx *cli.Context) (map[string]any, error) {
	raw := cCtx.String(flagOptions.Name)
	if raw == "" {
		return nil, nil
	}
	var options map[string]any
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return nil, fmt.Errorf("--options must be a JSON object: %w", err)
	}
	return options, nil
}
