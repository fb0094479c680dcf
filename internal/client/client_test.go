package client_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/casterbn/PyGPSClient/internal/client"
	"github.com/casterbn/PyGPSClient/internal/decoder"
	"github.com/casterbn/PyGPSClient/internal/protocol"
)

// startReceiver runs a loopback TCP server that writes stream to the first
// client and then closes the connection
func startReceiver(t *testing.T, stream []byte) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if len(stream) > 0 {
			conn.Write(stream)
		}
		conn.Close()
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func ubxAck(cls, id byte) []byte {
	frame := []byte{0xB5, 0x62, 0x05, 0x01, 0x02, 0x00, cls, id}
	var ckA, ckB byte
	for _, b := range frame[2:] {
		ckA += b
		ckB += ckA
	}
	return append(frame, ckA, ckB)
}

func TestDialReadsStreamToEOF(t *testing.T) {
	body := "GPGLL,4717.11,N,00833.91,E,092725.00,A,A"
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	stream := ubxAck(0x06, 0x08)
	stream = append(stream, fmt.Sprintf("$%s*%02X\r\n", body, sum)...)

	port := startReceiver(t, stream)

	conn, err := client.Dial(context.Background(), "test-1", client.Options{
		Host:      "127.0.0.1",
		Port:      port,
		Transport: "tcp",
	}, decoder.NewRegistry())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var results []protocol.Result
	for res := range conn.Results() {
		results = append(results, res)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 frames before EOF, got %d", len(results))
	}
	if results[0].Protocol != protocol.UBX || results[0].Msg.Identity != "ACK-ACK" {
		t.Fatalf("first frame: %+v", results[0])
	}
	if results[1].Protocol != protocol.NMEA || results[1].Msg.Identity != "GPGLL" {
		t.Fatalf("second frame: %+v", results[1])
	}

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("reader did not stop after EOF")
	}
	if conn.Err() != nil {
		t.Fatalf("clean EOF reported as error: %v", conn.Err())
	}
}

func TestCloseUnblocksIdleReader(t *testing.T) {
	port := startReceiver(t, nil)

	conn, err := client.Dial(context.Background(), "test-2", client.Options{
		Host:        "127.0.0.1",
		Port:        port,
		Transport:   "tcp",
		ReadTimeout: time.Hour, // deadline must not be what unblocks us
	}, decoder.NewRegistry())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		conn.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("Close did not return promptly")
	}
	if conn.Err() != nil {
		t.Fatalf("local close reported as transport error: %v", conn.Err())
	}
}

func TestDialRejectsUnknownTransport(t *testing.T) {
	_, err := client.Dial(context.Background(), "test-3", client.Options{
		Host:      "127.0.0.1",
		Port:      2101,
		Transport: "sctp",
	}, decoder.NewRegistry())
	if err == nil {
		t.Fatalf("expected error for unsupported transport")
	}
}

func TestWriteReachesReceiver(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	conn, err := client.Dial(context.Background(), "test-4", client.Options{
		Host:      "127.0.0.1",
		Port:      ln.Addr().(*net.TCPAddr).Port,
		Transport: "tcp",
	}, decoder.NewRegistry())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	poll := decoder.EncodeUBXPoll(0x01, 0x07)
	if err := conn.Write(poll); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-received:
		if len(got) != len(poll) {
			t.Fatalf("receiver got %d bytes, want %d", len(got), len(poll))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("receiver never saw the poll frame")
	}
}
