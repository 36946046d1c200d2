package smp

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/rigado/security"
)

// LoopbackDialer simulates remote devices in process. Each Dial starts a
// responder on the other end of an in-memory pipe. It is meant for tests
// and demos without a radio.
type LoopbackDialer struct {
	// Central is the address the initiator pairs as.
	Central security.Device

	// Config is the responder's pairing parameters; the zero value means
	// DefaultConfig.
	Config Config

	// Delay holds back the responder before it reads the request.
	Delay time.Duration

	// Reject, if not zero, makes the responder refuse with this reason.
	Reject byte

	// Silent makes the responder swallow everything and never answer.
	Silent bool

	// Bonds receives every bond the responder completes, if set.
	Bonds chan<- security.BondInfo
}

func (d *LoopbackDialer) Dial(ctx context.Context, dev security.Device) (io.ReadWriteCloser, error) {
	local, remote := net.Pipe()

	go func() {
		defer remote.Close()

		if d.Delay > 0 {
			select {
			case <-time.After(d.Delay):
			case <-ctx.Done():
				return
			}
		}

		switch {
		case d.Silent:
			_, _ = io.Copy(io.Discard, remote)
		case d.Reject != 0:
			if _, err := readPDU(remote); err == nil {
				_ = writePDU(remote, []byte{pairingFailed, d.Reject})
			}
		default:
			cfg := d.Config
			if cfg == (Config{}) {
				cfg = DefaultConfig()
			}
			bond, err := Respond(ctx, remote, dev, d.Central, cfg)
			if err == nil && d.Bonds != nil {
				d.Bonds <- bond
			}
		}
	}()

	return local, nil
}
