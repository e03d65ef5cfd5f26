package kiteconnect

import (
	"encoding/binary"
	"testing"
)

func ltpPacket(token uint32, paise int32) []byte {
	p := make([]byte, 8)
	binary.BigEndian.PutUint32(p[0:4], token)
	binary.BigEndian.PutUint32(p[4:8], uint32(paise))
	return p
}

func frame(packets ...[]byte) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out[0:2], uint16(len(packets)))
	for _, p := range packets {
		hdr := make([]byte, 2)
		binary.BigEndian.PutUint16(hdr, uint16(len(p)))
		out = append(out, hdr...)
		out = append(out, p...)
	}
	return out
}

func TestParseBinary_SinglePacket(t *testing.T) {
	ticks := parseBinary(frame(ltpPacket(408065, 107435)))
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}
	if ticks[0].InstrumentToken != 408065 {
		t.Fatalf("expected token 408065, got %d", ticks[0].InstrumentToken)
	}
	if got := ticks[0].LastPrice.String(); got != "1074.35" {
		t.Fatalf("expected price 1074.35, got %s", got)
	}
}

func TestParseBinary_MultiplePackets(t *testing.T) {
	ticks := parseBinary(frame(
		ltpPacket(408065, 107435),
		ltpPacket(738561, 295000),
	))
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if ticks[1].InstrumentToken != 738561 {
		t.Fatalf("expected token 738561, got %d", ticks[1].InstrumentToken)
	}
	if got := ticks[1].LastPrice.String(); got != "2950" {
		t.Fatalf("expected price 2950, got %s", got)
	}
}

func TestParseBinary_Heartbeat(t *testing.T) {
	if ticks := parseBinary([]byte{0}); len(ticks) != 0 {
		t.Fatalf("heartbeat frame should yield no ticks, got %d", len(ticks))
	}
}

func TestParseBinary_Truncated(t *testing.T) {
	full := frame(ltpPacket(408065, 107435))
	if ticks := parseBinary(full[:6]); len(ticks) != 0 {
		t.Fatalf("truncated frame should yield no ticks, got %d", len(ticks))
	}
}
