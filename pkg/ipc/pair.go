// Package ipc provides exactly-two-peer bidirectional messaging between a
// supervisor and a companion process. One side listens, the other dials;
// messages are opaque type+payload envelopes, so the channel carries
// whatever protocol the peers agree on.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psantana5/procbox/pkg/retry"
)

// ErrClosed is returned when sending on a closed pair.
var ErrClosed = errors.New("ipc pair closed")

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
	closeTimeout  = 2 * time.Second
)

// Message is the wire envelope. Payload semantics belong to the peers.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope, JSON-encoding the payload value.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode payload: %w", err)
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// Handler receives inbound messages. It runs on the pair's read loop, so a
// slow handler backpressures the peer.
type Handler func(Message)

// Pair is one endpoint of the channel.
type Pair struct {
	handler Handler

	mu     sync.Mutex
	conn   *websocket.Conn
	server *http.Server
	ln     net.Listener

	sendCh    chan Message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newPair(handler Handler) *Pair {
	return &Pair{
		handler: handler,
		sendCh:  make(chan Message, sendQueueSize),
		done:    make(chan struct{}),
	}
}

// Listen binds addr and waits for exactly one peer to connect. Messages
// sent before the peer arrives are queued up to the send buffer. Additional
// connection attempts are rejected while the first peer is attached.
func Listen(addr string, handler Handler) (*Pair, error) {
	p := newPair(handler)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ipc listen: %w", err)
	}
	p.ln = ln

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		if p.conn != nil {
			p.mu.Unlock()
			http.Error(w, "pair already connected", http.StatusConflict)
			return
		}
		p.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.attach(conn)
	})

	p.server = &http.Server{Handler: mux}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.server.Serve(ln)
	}()
	return p, nil
}

// Addr returns the listener address. Only meaningful for the listening side.
func (p *Pair) Addr() string {
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}

// Dial connects to a listening peer, retrying with backoff until the
// context expires. addr is host:port.
func Dial(ctx context.Context, addr string, handler Handler) (*Pair, error) {
	p := newPair(handler)

	url := "ws://" + addr + "/"
	err := retry.Do(ctx, retry.Config{
		MaxRetries:     10,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}, func() error {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return err
		}
		p.attach(conn)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ipc dial %s: %w", addr, err)
	}
	return p, nil
}

// attach installs the peer connection and starts the read/write loops.
func (p *Pair) attach(conn *websocket.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	p.wg.Add(2)
	go p.readLoop(conn)
	go p.writeLoop(conn)
}

func (p *Pair) readLoop(conn *websocket.Conn) {
	defer p.wg.Done()
	// Detach on exit so a listening pair can accept its next peer.
	defer func() {
		conn.Close()
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
		}
		p.mu.Unlock()
	}()
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if p.handler != nil {
			p.handler(msg)
		}
	}
}

func (p *Pair) writeLoop(conn *websocket.Conn) {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.sendCh:
			p.mu.Lock()
			current := p.conn
			p.mu.Unlock()
			if current != conn {
				// Peer changed under us; hand the message to the new loop.
				select {
				case p.sendCh <- msg:
				default:
				}
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

// Send queues a message for the peer. It fails fast when the queue is full
// rather than blocking the caller behind a dead peer.
func (p *Pair) Send(msg Message) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.sendCh <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	case <-time.After(writeTimeout):
		return fmt.Errorf("ipc send queue full")
	}
}

// Close tears the pair down. Idempotent and bounded: it sends a close frame
// on a best-effort basis and never waits past closeTimeout for the peer.
func (p *Pair) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)

		p.mu.Lock()
		conn := p.conn
		server := p.server
		p.mu.Unlock()

		if conn != nil {
			deadline := time.Now().Add(closeTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
		if server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			_ = server.Shutdown(ctx)
			cancel()
		}
		p.wg.Wait()
	})
	return nil
}
