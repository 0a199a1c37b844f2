package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encode renders a Packet's control portion — magic through streamLen — as a
// contiguous byte slice. It never includes the stream payload itself: callers
// stream that separately (often with zero-copy, e.g. io.Copy from an
// *os.File) immediately after writing the returned bytes.
//
// Encode is symmetric with Decoder: it always emits the 8-byte streamLen
// field, even when StreamLen is zero, matching spec.md §4.1.
func Encode(p Packet) []byte {
	tokenBytes := []byte(p.Token)
	buf := make([]byte, headerFixedLen+len(tokenBytes)+4+len(p.Data)+8)

	off := 0
	binary.BigEndian.PutUint32(buf[off:], Magic)
	off += 4
	buf[off] = Version
	off++
	buf[off] = byte(p.Command)
	off++
	binary.BigEndian.PutUint32(buf[off:], uint32(len(tokenBytes)))
	off += 4
	off += copy(buf[off:], tokenBytes)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(p.Data)))
	off += 4
	off += copy(buf[off:], p.Data)
	binary.BigEndian.PutUint64(buf[off:], uint64(p.StreamLen))

	return buf
}

// WriteTo encodes p and writes it to w in one call. It does not write the
// stream payload — callers with StreamLen > 0 are responsible for streaming
// exactly that many bytes immediately afterward on the same connection.
func WriteTo(w io.Writer, p Packet) error {
	if p.StreamLen < 0 {
		return fmt.Errorf("wire: negative stream length %d", p.StreamLen)
	}
	if len(p.Data) > MaxControlDataLen {
		return fmt.Errorf("wire: %w: data length %d exceeds %d", ErrFrameTooLarge, len(p.Data), MaxControlDataLen)
	}
	_, err := w.Write(Encode(p))
	return err
}
