package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPairRoundTrip(t *testing.T) {
	serverGot := make(chan Message, 1)
	server, err := Listen("127.0.0.1:0", func(m Message) { serverGot <- m })
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	clientGot := make(chan Message, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, server.Addr(), func(m Message) { clientGot <- m })
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	msg, err := NewMessage("status-request", map[string]string{"task": "web"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := client.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-serverGot:
		if got.Type != "status-request" {
			t.Errorf("Unexpected type %q", got.Type)
		}
		var payload map[string]string
		if err := json.Unmarshal(got.Payload, &payload); err != nil {
			t.Fatalf("Payload decode failed: %v", err)
		}
		if payload["task"] != "web" {
			t.Errorf("Unexpected payload %v", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server never received the message")
	}

	reply, _ := NewMessage("status-reply", nil)
	if err := server.Send(reply); err != nil {
		t.Fatalf("Server send failed: %v", err)
	}
	select {
	case got := <-clientGot:
		if got.Type != "status-reply" {
			t.Errorf("Unexpected reply type %q", got.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Client never received the reply")
	}
}

func TestDialRetriesUntilListener(t *testing.T) {
	// Reserve a port, then listen on it only after the dial has begun.
	server, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := server.Addr()
	server.Close()

	dialDone := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		p, err := Dial(ctx, addr, nil)
		if p != nil {
			defer p.Close()
		}
		dialDone <- err
	}()

	time.Sleep(300 * time.Millisecond)
	server, err = Listen(addr, nil)
	if err != nil {
		t.Fatalf("Relisten failed: %v", err)
	}
	defer server.Close()

	if err := <-dialDone; err != nil {
		t.Fatalf("Dial never succeeded: %v", err)
	}
}

func TestSecondPeerRejected(t *testing.T) {
	server, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first, err := Dial(ctx, server.Addr(), nil)
	if err != nil {
		t.Fatalf("First dial failed: %v", err)
	}
	defer first.Close()

	shortCtx, shortCancel := context.WithTimeout(context.Background(), time.Second)
	defer shortCancel()
	second, err := Dial(shortCtx, server.Addr(), nil)
	if err == nil {
		second.Close()
		t.Error("Second peer should be rejected")
	}
}

func TestCloseIdempotent(t *testing.T) {
	server, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	began := time.Now()
	if err := server.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if elapsed := time.Since(began); elapsed > 5*time.Second {
		t.Errorf("Close was not bounded, took %s", elapsed)
	}

	if err := server.Send(Message{Type: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
