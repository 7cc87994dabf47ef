package launchersim

import (
	"context"
	"log/slog"

	"dmsdk/internal/transport/pipe"
)

// ListenAndServe serves the simulator on endpoint until ctx is done.
func (s *Simulator) ListenAndServe(ctx context.Context, endpoint string) error {
	ln, err := pipe.Listen(endpoint)
	if err != nil {
		return err
	}
	s.logger.Info("Launcher simulator listening", slog.String("endpoint", endpoint))
	return pipe.NewServer(s, s.cfg.Logger).Serve(ctx, ln)
}
