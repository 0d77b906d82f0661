//go:build tsnet

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"tailscale.com/tsnet"
)

// ServeTailscale exposes the gateway mux on a tailnet under hostname. Runs
// until ctx is cancelled. Requires TS_AUTHKEY in the environment on first
// start.
func (s *Server) ServeTailscale(ctx context.Context, hostname string) error {
	ts := &tsnet.Server{Hostname: hostname}
	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		return fmt.Errorf("tsnet listen: %w", err)
	}

	slog.Info("gateway listening on tailnet", "hostname", hostname)

	go func() {
		<-ctx.Done()
		ln.Close()
		ts.Close()
	}()

	if err := http.Serve(ln, s.BuildMux()); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tsnet serve: %w", err)
	}
	return nil
}
