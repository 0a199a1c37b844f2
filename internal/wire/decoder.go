package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Errors returned by Decoder.Feed. Any non-nil error is terminal: the spec
// requires closing the connection without attempting resync (spec.md §4.1).
var (
	ErrBadMagic           = errors.New("wire: bad magic")
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	ErrFrameTooLarge      = errors.New("wire: frame too large")
)

type decoderState int

const (
	stateFrame decoderState = iota
	stateStream
)

// Event is emitted by Decoder.Feed. Exactly one of Packet or Stream is set.
type Event struct {
	// Packet is set when a full frame header (and its data section) has been
	// decoded. If Packet.HasStream() the decoder transitions to the stream
	// state and the next events (until StreamLen bytes are consumed) are
	// Stream chunks belonging to this packet.
	Packet *Packet

	// Stream is one opaque chunk of stream payload, delivered as received —
	// the decoder never buffers a full stream (spec.md §4.1).
	Stream []byte
}

// Decoder is a resumable per-connection frame decoder. It never blocks: Feed
// consumes whatever bytes are available, emits zero or more Events, and
// retains any incomplete trailing frame for the next call. This matches the
// non-blocking reactor model of spec.md §5 — the codec "advances whenever
// bytes arrive" rather than owning a goroutine or blocking read.
type Decoder struct {
	state     decoderState
	buf       []byte
	remaining int64 // stream bytes left to deliver in stateStream
}

// NewDecoder returns a Decoder starting in the FRAME state.
func NewDecoder() *Decoder {
	return &Decoder{state: stateFrame}
}

// Feed appends chunk to the decoder's internal buffer and decodes as many
// complete frames/stream-chunks as are available. A non-nil error means the
// connection must be closed immediately (bad magic, unsupported version, or
// a control frame exceeding MaxControlDataLen) — per spec.md, the decoder
// does not attempt to resynchronise after such an error.
func (d *Decoder) Feed(chunk []byte) ([]Event, error) {
	if len(chunk) > 0 {
		d.buf = append(d.buf, chunk...)
	}

	var events []Event
	for {
		switch d.state {
		case stateFrame:
			pkt, consumed, ok, err := tryDecodeFrame(d.buf)
			if err != nil {
				return events, err
			}
			if !ok {
				return events, nil // wait for more bytes; buf left untouched
			}
			d.buf = d.buf[consumed:]
			events = append(events, Event{Packet: pkt})
			if pkt.HasStream() {
				d.state = stateStream
				d.remaining = pkt.StreamLen
			}

		case stateStream:
			if d.remaining == 0 {
				d.state = stateFrame
				continue
			}
			if len(d.buf) == 0 {
				return events, nil
			}
			n := int64(len(d.buf))
			if n > d.remaining {
				n = d.remaining
			}
			events = append(events, Event{Stream: d.buf[:n]})
			d.buf = d.buf[n:]
			d.remaining -= n
			if d.remaining == 0 {
				d.state = stateFrame
			}
		}
	}
}

// tryDecodeFrame attempts to decode one frame header+data section from buf.
// ok is false when buf does not yet hold a complete frame — in that case buf
// must be left untouched so the next Feed call can pick up where this one
// left off (spec.md: "must not consume bytes it cannot complete").
func tryDecodeFrame(buf []byte) (pkt *Packet, consumed int, ok bool, err error) {
	if len(buf) < headerFixedLen {
		return nil, 0, false, nil
	}

	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != Magic {
		return nil, 0, false, fmt.Errorf("%w: got %#x", ErrBadMagic, magic)
	}
	version := buf[4]
	if version != Version {
		return nil, 0, false, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, version)
	}
	command := Command(int8(buf[5]))
	if _, known := knownCommands[command]; !known {
		command = Error
	}
	tokenLen := binary.BigEndian.Uint32(buf[6:10])

	need := headerFixedLen + int(tokenLen) + 4 // + dataLen field
	if len(buf) < need {
		return nil, 0, false, nil
	}
	token := string(buf[headerFixedLen : headerFixedLen+int(tokenLen)])

	dataLenOff := headerFixedLen + int(tokenLen)
	dataLen := binary.BigEndian.Uint32(buf[dataLenOff : dataLenOff+4])
	if dataLen > MaxControlDataLen {
		return nil, 0, false, fmt.Errorf("%w: data length %d", ErrFrameTooLarge, dataLen)
	}

	dataOff := dataLenOff + 4
	need = dataOff + int(dataLen) + 8 // + streamLen field
	if len(buf) < need {
		return nil, 0, false, nil
	}
	data := append([]byte(nil), buf[dataOff:dataOff+int(dataLen)]...)
	streamLenOff := dataOff + int(dataLen)
	streamLen := binary.BigEndian.Uint64(buf[streamLenOff : streamLenOff+8])

	p := &Packet{
		Command:   command,
		Token:     token,
		Data:      data,
		StreamLen: int64(streamLen),
	}
	return p, need, true, nil
}
