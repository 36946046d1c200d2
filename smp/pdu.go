package smp

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/rigado/security/sliceops"
)

// Frames on the link are basic L2CAP frames: length, channel id, payload.

func writePDU(w io.Writer, pdu []byte) error {
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint16(hdr[0:], uint16(len(pdu)))
	binary.LittleEndian.PutUint16(hdr[2:], cidSMP)

	_, err := w.Write(sliceops.Concat(hdr, pdu))
	return err
}

// readPDU returns the next non-empty frame on the security manager
// channel. Frames for other channels are dropped.
func readPDU(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint16(hdr[0:])
		cid := binary.LittleEndian.Uint16(hdr[2:])

		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, errors.Wrap(err, "truncated frame")
		}
		if cid != cidSMP || n == 0 {
			continue
		}
		return b, nil
	}
}
