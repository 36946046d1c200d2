package h4

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/jacobsa/go-serial/serial"
	"github.com/rigado/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort behaves like a port opened with MinimumReadSize 0: reads
// without data return io.EOF.
type fakePort struct {
	mu     sync.Mutex
	rx     bytes.Buffer
	tx     bytes.Buffer
	closed bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.rx.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) reopen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
}

func (p *fakePort) feed(b ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx.Write(b)
}

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.tx.Bytes()...)
}

var peer = security.MustParseDevice("00:1b:dc:07:32:aa", security.AddrTypePublic)

func dial(t *testing.T, port *fakePort) io.ReadWriteCloser {
	t.Helper()

	d := NewDialer("/dev/ttyS9", 1000000, 0x0040)
	var got serial.OpenOptions
	d.open = func(o serial.OpenOptions) (io.ReadWriteCloser, error) {
		got = o
		return port, nil
	}

	c, err := d.Dial(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, uint(0), got.MinimumReadSize)
	assert.Equal(t, uint(100), got.InterCharacterTimeout)
	assert.Equal(t, "/dev/ttyS9", got.PortName)
	return c
}

func TestDialSendsNoCommand(t *testing.T) {
	port := &fakePort{}
	port.feed(0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00) // stale command complete

	c := dial(t, port)
	require.NoError(t, c.Close())
	port.reopen()

	port.feed(pktACL, 0x40, 0x20, 0x01, 0x00, 0xee) // stale frame from before the second dial
	c = dial(t, port)
	defer c.Close()

	assert.Empty(t, port.written())

	port.feed(pktACL, 0x40, 0x20, 0x01, 0x00, 0x07)
	b := make([]byte, 4)
	n, err := c.Read(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07}, b[:n])
}

func TestWriteWrapsACL(t *testing.T) {
	port := &fakePort{}
	c := dial(t, port)
	defer c.Close()

	n, err := c.Write([]byte{0x01, 0x00, 0x06, 0x00, 0x05})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte{pktACL, 0x40, 0x00, 0x05, 0x00, 0x01, 0x00, 0x06, 0x00, 0x05}, port.written())
}

func TestReadUnwrapsACL(t *testing.T) {
	port := &fakePort{}
	c := dial(t, port)
	defer c.Close()

	port.feed(
		pktEvent, 0x13, 0x01, 0xff, // dropped
		pktACL, 0x41, 0x20, 0x02, 0x00, 0xaa, 0xbb, // other handle
		pktACL, 0x40, 0x20, 0x03, 0x00, 0x01, 0x02, 0x03,
	)

	b := make([]byte, 2)
	n, err := c.Read(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, b[:n])

	n, err = c.Read(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, b[:n])
}

func TestReadInvalidPacket(t *testing.T) {
	port := &fakePort{}
	c := dial(t, port)
	defer c.Close()

	port.feed(0x7f)
	_, err := c.Read(make([]byte, 4))
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	port := &fakePort{}
	c := dial(t, port)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err := c.Write([]byte{1})
	assert.Equal(t, io.ErrClosedPipe, err)
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestDialCancelled(t *testing.T) {
	d := NewDialer("/dev/ttyS9", 115200, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Dial(ctx, peer)
	assert.Equal(t, context.Canceled, err)
}
