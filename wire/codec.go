package wire

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// ProtocolVersion is the only wire version this codec understands.
const ProtocolVersion uint8 = 1

// FlagBatch marks a frame whose payload is a batch-wrapped sequence.
const FlagBatch uint8 = 1 << 0

// HeaderSize is the fixed frame header length: version(1) | flags(1) | payload_length(4 BE).
const HeaderSize = 6

// ErrUnknownVersion is returned when a frame declares a version this codec does not understand.
var ErrUnknownVersion = errors.New("wire: unknown frame version")

// ErrHeaderTruncated is returned when fewer than HeaderSize bytes are available.
var ErrHeaderTruncated = errors.New("wire: truncated frame header")

// ErrPayloadTruncated is returned when the declared payload is not fully present.
var ErrPayloadTruncated = errors.New("wire: truncated frame payload")

// ErrFrameTooLarge is returned when the declared payload length exceeds the caller's maxLen.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

var cborMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// EncodeMessage CBOR-encodes a single message's payload (no frame header).
func EncodeMessage(m Message) ([]byte, error) {
	b, err := cborMode.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encoding message payload")
	}
	return b, nil
}

// DecodeMessage decodes a single message's payload (no frame header).
func DecodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return Message{}, errors.Wrap(err, "decoding message payload")
	}
	return m, nil
}

// EncodeFrame produces a complete header+payload frame for a single message.
// If the message is batchable and the caller wants it wrapped, use EncodeBatchFrame instead.
func EncodeFrame(m Message) ([]byte, error) {
	payload, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}
	return buildFrame(payload, 0), nil
}

// EncodeBatchFrame wraps msgs in a channel/batch message and frames it.
// A single-element batch decodes equivalently to that element alone,
// verified by the batch-idempotence property in the test suite.
func EncodeBatchFrame(msgs []Message) ([]byte, error) {
	batch := Message{Kind: KindBatch, Messages: msgs}
	payload, err := EncodeMessage(batch)
	if err != nil {
		return nil, err
	}
	return buildFrame(payload, FlagBatch), nil
}

func buildFrame(payload []byte, flags uint8) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = ProtocolVersion
	buf[1] = flags
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// rawBytes accepts any named type whose underlying representation is a byte
// slice, so a caller on a platform that hands back a subclassed byte-array
// type is still accepted without an explicit conversion at every call site.
type rawBytes interface {
	~[]byte
}

// DecodeFrame parses one frame and returns its constituent messages: a
// single-element slice for a plain frame, or the unwrapped contents of a
// channel/batch frame. maxLen bounds the accepted payload_length; pass 0 for
// no bound.
func DecodeFrame[B rawBytes](buf B, maxLen uint32) ([]Message, error) {
	raw := []byte(buf)
	if len(raw) < HeaderSize {
		return nil, ErrHeaderTruncated
	}
	version := raw[0]
	flags := raw[1]
	payloadLen := binary.BigEndian.Uint32(raw[2:6])

	if version != ProtocolVersion {
		return nil, errors.Wrapf(ErrUnknownVersion, "got version %d", version)
	}
	if maxLen != 0 && payloadLen > maxLen {
		return nil, errors.Wrapf(ErrFrameTooLarge, "payload_length=%d max=%d", payloadLen, maxLen)
	}
	if uint32(len(raw)-HeaderSize) < payloadLen {
		return nil, ErrPayloadTruncated
	}
	payload := raw[HeaderSize : HeaderSize+int(payloadLen)]

	msg, err := DecodeMessage(payload)
	if err != nil {
		return nil, err
	}

	if flags&FlagBatch != 0 || msg.Kind == KindBatch {
		return msg.Messages, nil
	}
	return []Message{msg}, nil
}
