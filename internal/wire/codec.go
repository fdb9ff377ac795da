package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rekurlabs/rekur/internal/errors"
)

// Framing: a 4-byte big-endian length prefix followed by that many bytes
// of UTF-8 JSON.

const headerSize = 4

// MaxFrameSize bounds a single record. Completions carry transcripts, so
// the ceiling is generous.
const MaxFrameSize = 64 * 1024 * 1024

// Send writes one length-prefixed JSON record.
func Send(w io.Writer, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	if len(body) > MaxFrameSize {
		return errors.InvalidInput(fmt.Sprintf("record of %d bytes exceeds frame limit", len(body)))
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return errors.WrapWithCategory(err, "write frame header", errors.ErrPeerDisconnect)
	}
	if _, err := w.Write(body); err != nil {
		return errors.WrapWithCategory(err, "write frame body", errors.ErrPeerDisconnect)
	}
	return nil
}

// Receive reads one length-prefixed JSON record into the given value.
// A clean close before any byte returns io.EOF and leaves record untouched;
// a close mid-message is a peer-disconnect error.
func Receive(r io.Reader, record any) error {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return errors.WrapWithCategory(err, "read frame header", errors.ErrPeerDisconnect)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil
	}
	if length > MaxFrameSize {
		return errors.InvalidInput(fmt.Sprintf("frame of %d bytes exceeds limit", length))
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return errors.WrapWithCategory(err, "read frame body", errors.ErrPeerDisconnect)
	}

	if err := json.Unmarshal(body, record); err != nil {
		return errors.WrapWithCategory(err, "decode record", errors.ErrInvalidInput)
	}
	return nil
}
