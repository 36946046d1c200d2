// Package smp pairs with remote devices over the LE security manager
// channel using LE Secure Connections (Just Works). A Service implements
// security.PairingService on top of a Dialer that opens the channel.
package smp

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/security"
)

// Dialer opens the security manager channel to dev. The returned stream
// carries basic L2CAP frames; closing it ends the link.
type Dialer interface {
	Dial(ctx context.Context, dev security.Device) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, dev security.Device) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(ctx context.Context, dev security.Device) (io.ReadWriteCloser, error) {
	return f(ctx, dev)
}

// Service runs one handshake goroutine per StartPairing call.
type Service struct {
	local   security.Device
	dialer  Dialer
	config  Config
	timeout time.Duration
	log     security.Logger
}

// Option configures a Service.
type Option func(*Service) error

// OptConfig sets the local pairing parameters.
func OptConfig(c Config) Option {
	return func(s *Service) error {
		if r := c.check(); r != 0 {
			return errors.Errorf("unsupported pairing config: %s", pairingFailedReason[r])
		}
		s.config = c
		return nil
	}
}

// OptTimeout bounds a handshake on its own, independently of the
// Manager's pairing timeout. Zero disables it.
func OptTimeout(d time.Duration) Option {
	return func(s *Service) error {
		if d < 0 {
			return errors.Errorf("invalid timeout %v", d)
		}
		s.timeout = d
		return nil
	}
}

func OptLogger(l security.Logger) Option {
	return func(s *Service) error {
		if l == nil {
			return errors.New("nil logger")
		}
		s.log = l
		return nil
	}
}

// NewService returns a Service pairing as local through d.
func NewService(local security.Device, d Dialer, opts ...Option) (*Service, error) {
	if err := local.Validate(); err != nil {
		return nil, errors.Wrap(err, "local device")
	}
	if d == nil {
		return nil, errors.New("nil dialer")
	}

	s := &Service{
		local:  local,
		dialer: d,
		config: DefaultConfig(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.log == nil {
		s.log = security.GetLogger().ChildLogger(map[string]interface{}{"component": "smp"})
	}
	return s, nil
}

type handshake struct {
	dev     security.Device
	cancel  context.CancelFunc
	aborted int32
}

// StartPairing implements security.PairingService. done is called exactly
// once, from the handshake goroutine.
func (s *Service) StartPairing(dev security.Device, done func(security.PairingResult)) (security.PairingHandle, error) {
	if done == nil {
		return nil, errors.New("nil completion")
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	h := &handshake{dev: dev, cancel: cancel}

	go func() {
		defer cancel()
		bond, err := s.pair(ctx, dev)
		if err != nil {
			err = h.classify(ctx, err)
		}
		done(security.PairingResult{Bond: bond, Err: err})
	}()
	return h, nil
}

// AbortPairing implements security.PairingService. The handshake then
// completes with security.ErrPairingAborted.
func (s *Service) AbortPairing(ph security.PairingHandle) {
	h, ok := ph.(*handshake)
	if !ok || h == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&h.aborted, 0, 1) {
		s.log.Debugf("aborting pairing with %s", h.dev)
	}
	h.cancel()
}

func (s *Service) pair(ctx context.Context, dev security.Device) (security.BondInfo, error) {
	rwc, err := s.dialer.Dial(ctx, dev)
	if err != nil {
		return nil, errors.Wrapf(security.ErrLinkLost, "dial %s: %v", dev, err)
	}
	return runClosing(ctx, rwc, &session{
		rw:        rwc,
		initiator: true,
		log:       s.log.ChildLogger(map[string]interface{}{"remote": dev.String()}),
		local:     s.local,
		remote:    dev,
		localCfg:  s.config,
	})
}

// Respond runs the responder side of one handshake on rw, as local with
// remote as the initiator. It returns when the handshake is over or ctx is
// done.
func Respond(ctx context.Context, rw io.ReadWriteCloser, local, remote security.Device, cfg Config) (security.BondInfo, error) {
	return runClosing(ctx, rw, &session{
		rw:       rw,
		log:      security.GetLogger().ChildLogger(map[string]interface{}{"component": "smp", "remote": remote.String()}),
		local:    local,
		remote:   remote,
		localCfg: cfg,
	})
}

// runClosing runs s and closes c when ctx ends first, unblocking reads.
func runClosing(ctx context.Context, c io.Closer, s *session) (security.BondInfo, error) {
	var once sync.Once
	closeLink := func() { once.Do(func() { c.Close() }) }
	defer closeLink()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeLink()
		case <-stop:
		}
	}()

	bond, err := s.run()
	if err != nil && ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), err.Error())
	}
	return bond, err
}

// classify maps err to the failure reasons the Manager understands.
func (h *handshake) classify(ctx context.Context, err error) error {
	switch {
	case atomic.LoadInt32(&h.aborted) == 1:
		return errors.Wrap(security.ErrPairingAborted, err.Error())
	case ctx.Err() == context.DeadlineExceeded:
		return errors.Wrap(security.ErrPairingTimeout, err.Error())
	case isLinkError(err):
		return errors.Wrap(security.ErrLinkLost, err.Error())
	}
	return err
}

func isLinkError(err error) bool {
	c := errors.Cause(err)
	if c == io.EOF || c == io.ErrUnexpectedEOF || c == io.ErrClosedPipe || c == security.ErrLinkLost {
		return true
	}
	_, ok := c.(net.Error)
	return ok
}
