package core

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func TestTCPTransportRoundTrip(t *testing.T) {
	connA, connB := net.Pipe()
	tA := NewTCPTransportFromConn(connA)
	tB := NewTCPTransportFromConn(connB)

	received := make(chan []byte, 1)
	tA.SetHandlers(func([]byte) {}, func() {})
	tB.SetHandlers(func(p []byte) { received <- p }, func() {})

	if err := tA.Send([]byte("hello transport")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hello transport" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("payload never arrived")
	}
}

func TestTCPTransportRejectsOversizedFrame(t *testing.T) {
	connA, connB := net.Pipe()
	tB := NewTCPTransportFromConn(connB)

	closed := make(chan struct{}, 1)
	tB.SetHandlers(func([]byte) {}, func() { closed <- struct{}{} })

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxMessageSize+1)
	go func() {
		_, _ = connA.Write(lenBuf[:])
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("transport should have closed the connection on an oversized length prefix")
	}
}
