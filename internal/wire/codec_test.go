package wire_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/zynqcloud/nimbusfs/internal/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := wire.Packet{
		Command: wire.PreUpload,
		Token:   "t",
		Data:    []byte("abc"),
	}
	encoded := wire.Encode(want)

	dec := wire.NewDecoder()
	var got *wire.Packet
	// Feed byte-at-a-time to exercise the resumable path.
	for i := range encoded {
		events, err := dec.Feed(encoded[i : i+1])
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		for _, ev := range events {
			if ev.Packet != nil {
				got = ev.Packet
			}
			if ev.Stream != nil {
				t.Fatalf("unexpected stream chunk for a streamLen=0 packet")
			}
		}
	}
	if got == nil {
		t.Fatal("no packet decoded")
	}
	if got.Command != want.Command || got.Token != want.Token || !bytes.Equal(got.Data, want.Data) || got.StreamLen != 0 {
		t.Errorf("got %+v, want %+v", *got, want)
	}
}

func TestFragmentedStream(t *testing.T) {
	payload := make([]byte, 1000)
	rand.New(rand.NewSource(1)).Read(payload)

	hash := bytes.Repeat([]byte("H"), 64)
	pkt := wire.Packet{
		Command:   wire.UploadRequest,
		Data:      hash,
		StreamLen: int64(len(payload)),
	}

	full := append(wire.Encode(pkt), payload...)

	dec := wire.NewDecoder()
	var gotPacket *wire.Packet
	var streamed []byte
	const chunkSize = 7
	for off := 0; off < len(full); off += chunkSize {
		end := off + chunkSize
		if end > len(full) {
			end = len(full)
		}
		events, err := dec.Feed(full[off:end])
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		for _, ev := range events {
			if ev.Packet != nil {
				gotPacket = ev.Packet
			}
			if ev.Stream != nil {
				streamed = append(streamed, ev.Stream...)
			}
		}
	}

	if gotPacket == nil {
		t.Fatal("no control packet decoded")
	}
	if !bytes.Equal(gotPacket.Data, hash) {
		t.Errorf("control data = %q, want %q", gotPacket.Data, hash)
	}
	if len(streamed) != len(payload) {
		t.Fatalf("streamed %d bytes, want %d", len(streamed), len(payload))
	}
	if !bytes.Equal(streamed, payload) {
		t.Error("streamed bytes do not match payload")
	}
}

func TestBadMagicClosesWithoutResync(t *testing.T) {
	dec := wire.NewDecoder()
	garbage := []byte{0xde, 0xad, 0xbe, 0xef, 1, 1, 0, 0, 0, 0}
	_, err := dec.Feed(garbage)
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestFrameTooLarge(t *testing.T) {
	pkt := wire.Packet{Command: wire.UploadRequest, Data: make([]byte, wire.MaxControlDataLen+1)}
	encoded := wire.Encode(pkt)

	dec := wire.NewDecoder()
	_, err := dec.Feed(encoded)
	if err == nil {
		t.Fatal("expected ErrFrameTooLarge")
	}
}

func TestZeroLengthDataIsLegal(t *testing.T) {
	pkt := wire.Packet{Command: wire.RequestUploadLoc}
	dec := wire.NewDecoder()
	events, err := dec.Feed(wire.Encode(pkt))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(events) != 1 || events[0].Packet == nil {
		t.Fatalf("expected exactly one packet event, got %+v", events)
	}
	if len(events[0].Packet.Data) != 0 {
		t.Errorf("expected empty data, got %q", events[0].Packet.Data)
	}
}

func TestNoTokenDecodesToEmptyString(t *testing.T) {
	pkt := wire.Packet{Command: wire.RequestUploadLoc, Token: ""}
	dec := wire.NewDecoder()
	events, err := dec.Feed(wire.Encode(pkt))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if events[0].Packet.Token != "" {
		t.Errorf("expected empty token, got %q", events[0].Packet.Token)
	}
}

func TestMultipleFramesInOneFeed(t *testing.T) {
	p1 := wire.Packet{Command: wire.PreUpload, Data: []byte("h1")}
	p2 := wire.Packet{Command: wire.PreUpload, Data: []byte("h2")}
	combined := append(wire.Encode(p1), wire.Encode(p2)...)

	dec := wire.NewDecoder()
	events, err := dec.Feed(combined)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if string(events[0].Packet.Data) != "h1" || string(events[1].Packet.Data) != "h2" {
		t.Errorf("events out of order or wrong data: %+v", events)
	}
}
