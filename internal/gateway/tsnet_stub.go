//go:build !tsnet

package gateway

import (
	"context"
	"errors"
)

// ServeTailscale is only available in builds with the tsnet tag.
func (s *Server) ServeTailscale(_ context.Context, _ string) error {
	return errors.New("built without tsnet support")
}
