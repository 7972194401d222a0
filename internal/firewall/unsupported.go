//go:build !linux && !windows

package firewall

import (
	"github.com/rs/zerolog"
)

func newPlatformBackend(_ zerolog.Logger) (Backend, error) {
	return nil, ErrUnsupported
}
