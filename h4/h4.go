// Package h4 reaches the security manager channel of a connected peer
// through an HCI controller on a UART, using the H4 transport.
package h4

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/security"
)

const (
	pktACL   = 0x02
	pktEvent = 0x04

	// first fragment, non-automatically-flushable
	aclStart = 0x0000

	flushDelay = 250 * time.Millisecond
)

// Dialer opens the UART for every handshake. The peer must already be
// connected on Handle, so Dial never sends HCI commands: resetting the
// controller would drop the link.
type Dialer struct {
	Options serial.OpenOptions
	Handle  uint16

	log  security.Logger
	open func(serial.OpenOptions) (io.ReadWriteCloser, error)
}

// NewDialer returns a Dialer for the controller on port.
func NewDialer(port string, baud uint, handle uint16) *Dialer {
	return &Dialer{
		Options: serial.OpenOptions{
			PortName:          port,
			BaudRate:          baud,
			DataBits:          8,
			StopBits:          1,
			ParityMode:        serial.PARITY_NONE,
			RTSCTSFlowControl: true,
		},
		Handle: handle,
		log:    security.GetLogger().ChildLogger(map[string]interface{}{"component": "h4", "port": port}),
		open:   serial.Open,
	}
}

func (d *Dialer) Dial(ctx context.Context, dev security.Device) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// force these
	opts := d.Options
	opts.MinimumReadSize = 0
	opts.InterCharacterTimeout = 100

	sp, err := d.open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", opts.PortName)
	}

	// dump whatever the controller had queued
	select {
	case <-time.After(flushDelay):
	case <-ctx.Done():
		sp.Close()
		return nil, ctx.Err()
	}
	if _, err := sp.Read(make([]byte, 2048)); err != nil && err != io.EOF {
		sp.Close()
		return nil, errors.Wrap(err, "can't flush")
	}

	d.log.Debugf("opened for %s on handle 0x%04x", dev, d.Handle)
	c := &conn{
		sp:     sp,
		handle: d.Handle,
		done:   make(chan struct{}),
	}
	c.rd = bufio.NewReader(idleReader{c})
	return c, nil
}

// conn carries L2CAP frames in ACL packets of one connection handle.
type conn struct {
	sp     io.ReadWriteCloser
	handle uint16

	rmu     sync.Mutex
	rd      *bufio.Reader
	pending []byte

	wmu sync.Mutex

	cmu  sync.Mutex
	done chan struct{}
}

func (c *conn) isOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *conn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for len(c.pending) == 0 {
		b, err := c.nextACL()
		if err != nil {
			return 0, err
		}
		c.pending = b
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// nextACL returns the payload of the next ACL packet for c's handle.
// Events and packets of other connections are dropped.
func (c *conn) nextACL() ([]byte, error) {
	for {
		typ, err := c.rd.ReadByte()
		if err != nil {
			return nil, err
		}

		switch typ {
		case pktACL:
			hdr := make([]byte, 4)
			if _, err := io.ReadFull(c.rd, hdr); err != nil {
				return nil, err
			}
			h := binary.LittleEndian.Uint16(hdr[0:]) & 0x0fff
			b := make([]byte, binary.LittleEndian.Uint16(hdr[2:]))
			if _, err := io.ReadFull(c.rd, b); err != nil {
				return nil, err
			}
			if h == c.handle {
				return b, nil
			}
		case pktEvent:
			hdr := make([]byte, 2)
			if _, err := io.ReadFull(c.rd, hdr); err != nil {
				return nil, err
			}
			if _, err := c.rd.Discard(int(hdr[1])); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Errorf("invalid h4 packet type 0x%02x", typ)
		}
	}
}

func (c *conn) Write(p []byte) (int, error) {
	if !c.isOpen() {
		return 0, io.ErrClosedPipe
	}
	if len(p) > 0xffff {
		return 0, errors.New("frame too large")
	}

	pkt := make([]byte, 5, 5+len(p))
	pkt[0] = pktACL
	binary.LittleEndian.PutUint16(pkt[1:], c.handle&0x0fff|aclStart)
	binary.LittleEndian.PutUint16(pkt[3:], uint16(len(p)))
	pkt = append(pkt, p...)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.sp.Write(pkt); err != nil {
		return 0, errors.Wrap(err, "can't write h4")
	}
	return len(p), nil
}

func (c *conn) Close() error {
	c.cmu.Lock()
	defer c.cmu.Unlock()

	if !c.isOpen() {
		return nil
	}
	close(c.done)
	return c.sp.Close()
}

// idleReader hides the empty reads of a port opened without a minimum
// read size: the driver reports io.EOF whenever no byte arrived within
// the inter-character timeout.
type idleReader struct {
	c *conn
}

func (r idleReader) Read(p []byte) (int, error) {
	for {
		if !r.c.isOpen() {
			return 0, io.ErrClosedPipe
		}
		n, err := r.c.sp.Read(p)
		if n > 0 || (err != nil && err != io.EOF) {
			return n, err
		}
		time.Sleep(time.Millisecond)
	}
}
