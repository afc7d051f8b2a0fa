package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed width of the wire header: a big-endian u32 payload
// length followed by a u8 kind.
const HeaderSize = 5

// Header is the fixed-width preamble of every message on the wire.
type Header struct {
	Length uint32
	Kind   Kind
}

// Encode serializes the header to its 5-byte wire form.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[:4], h.Length)
	buf[4] = byte(h.Kind)
	return buf
}

// DecodeHeader parses a 5-byte wire header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, errors.New("invalid encoded message header length")
	}

	return Header{
		Length: binary.BigEndian.Uint32(buf[:4]),
		Kind:   Kind(buf[4]),
	}, nil
}

// Encode serializes a message to its full wire form: header + JSON payload.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message payload")
	}

	header := Header{Length: uint32(len(payload)), Kind: m.Kind()}
	encoded := header.Encode()

	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, encoded[:]...)
	out = append(out, payload...)
	return out, nil
}

// validator is implemented by message kinds with required fields that
// encoding/json cannot enforce on its own (missing or null JSON leaves a
// *big.Int nil, which must never reach a handler).
type validator interface {
	validate() error
}

// Decode parses a JSON payload into the message kind named by header and
// rejects payloads missing a required field.
func Decode(header Header, payload []byte) (Message, error) {
	if uint32(len(payload)) != header.Length {
		return nil, errors.New("invalid encoded message length")
	}

	m, err := New(header.Kind)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, m); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s payload", header.Kind)
	}

	if v, ok := m.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, errors.Wrapf(err, "invalid %s payload", header.Kind)
		}
	}

	return m, nil
}

// WriteMessage encodes and writes a single framed message. Callers are
// expected to use a buffered/flushing writer where flushing matters (e.g.
// bufio.Writer); Write alone is sufficient here since net.Conn.Write
// already transmits immediately.
func WriteMessage(w io.Writer, m Message) error {
	encoded, err := Encode(m)
	if err != nil {
		return err
	}

	if _, err := w.Write(encoded); err != nil {
		return errors.Wrap(err, "failed to write message")
	}

	return nil
}

// ReadMessage reads exactly one framed message: the 5-byte header, then
// its payload.
func ReadMessage(r io.Reader) (Message, error) {
	var headerBuf [HeaderSize]byte
	if _, err := io.ReadFull(r, headerBuf[:]); err != nil {
		return nil, err
	}

	header, err := DecodeHeader(headerBuf[:])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "failed to read message payload")
	}

	return Decode(header, payload)
}
