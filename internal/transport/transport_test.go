package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
)

func listenOSC(t *testing.T) (net.PacketConn, int) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func readMessage(t *testing.T, conn net.PacketConn) *osc.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65535)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	packet, err := osc.ParsePacket(string(buf[:n]))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msg, ok := packet.(*osc.Message)
	if !ok {
		t.Fatalf("packet is %T, want message", packet)
	}
	return msg
}

func TestOSCSendSection(t *testing.T) {
	conn, port := listenOSC(t)
	s, err := NewOSC("127.0.0.1", port, "/setlist/sectionWaveform", 0)
	if err != nil {
		t.Fatalf("NewOSC: %v", err)
	}

	payload := []int32{36, 12, 0, -36, -12, 0}
	if err := s.SendSection(context.Background(), 3, payload); err != nil {
		t.Fatalf("SendSection: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Address != "/setlist/sectionWaveform" {
		t.Errorf("Address = %q", msg.Address)
	}
	if len(msg.Arguments) != 1+len(payload) {
		t.Fatalf("got %d arguments, want %d", len(msg.Arguments), 1+len(payload))
	}
	if msg.Arguments[0] != int32(3) {
		t.Errorf("index = %v, want 3", msg.Arguments[0])
	}
	for i, v := range payload {
		if msg.Arguments[i+1] != v {
			t.Errorf("payload[%d] = %v, want %d", i, msg.Arguments[i+1], v)
		}
	}
}

func TestOSCClear(t *testing.T) {
	conn, port := listenOSC(t)
	s, err := NewOSC("127.0.0.1", port, "/wave", 1)
	if err != nil {
		t.Fatalf("NewOSC: %v", err)
	}
	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	msg := readMessage(t, conn)
	if len(msg.Arguments) != 1 || msg.Arguments[0] != int32(ClearIndex) {
		t.Errorf("clear arguments = %v, want [-1]", msg.Arguments)
	}
}

func TestNewOSCBadHost(t *testing.T) {
	if _, err := NewOSC("no such host.invalid", 9000, "/x", 0); err == nil {
		t.Error("NewOSC with an unresolvable host succeeded, want error")
	}
}

type recorder struct {
	sections []int
	clears   int
	err      error
}

func (r *recorder) SendSection(_ context.Context, index int, _ []int32) error {
	r.sections = append(r.sections, index)
	return r.err
}

func (r *recorder) Clear(context.Context) error {
	r.clears++
	return r.err
}

func TestTee(t *testing.T) {
	primary := &recorder{}
	mirror := &recorder{err: errors.New("mirror down")}
	s := Tee(primary, mirror)

	if err := s.SendSection(context.Background(), 0, nil); err != nil {
		t.Errorf("mirror error leaked: %v", err)
	}
	if err := s.Clear(context.Background()); err != nil {
		t.Errorf("mirror error leaked: %v", err)
	}
	if len(mirror.sections) != 1 || mirror.clears != 1 {
		t.Errorf("mirror got %v sections, %d clears", mirror.sections, mirror.clears)
	}

	primary.err = errors.New("display down")
	if err := s.SendSection(context.Background(), 1, nil); err == nil {
		t.Error("primary error swallowed")
	}
	if len(mirror.sections) != 2 {
		t.Error("mirror skipped after primary failure")
	}
}
