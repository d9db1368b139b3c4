package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/procbox/pkg/ipc"
)

// ErrRequestTimeout is returned when the daemon does not answer in time.
var ErrRequestTimeout = errors.New("control request timed out")

// Client performs request/response exchanges against a control server.
// Requests are serialized; a CLI invocation issues one at a time.
type Client struct {
	pair    *ipc.Pair
	replies chan Response
}

// Connect dials the daemon's control address.
func Connect(ctx context.Context, addr string) (*Client, error) {
	c := &Client{replies: make(chan Response, 1)}

	pair, err := ipc.Dial(ctx, addr, func(msg ipc.Message) {
		if msg.Type != msgTypeResponse {
			return
		}
		var resp Response
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			resp = Response{Error: "malformed response: " + err.Error()}
		}
		select {
		case c.replies <- resp:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	c.pair = pair
	return c, nil
}

// Do sends one request and waits for its response. The wait timeout should
// exceed the operation timeout carried in the request.
func (c *Client) Do(req Request, wait time.Duration) (Response, error) {
	msg, err := ipc.NewMessage(msgTypeRequest, req)
	if err != nil {
		return Response{}, err
	}
	if err := c.pair.Send(msg); err != nil {
		return Response{}, err
	}

	select {
	case resp := <-c.replies:
		return resp, nil
	case <-time.After(wait):
		return Response{}, fmt.Errorf("%w after %s", ErrRequestTimeout, wait)
	}
}

// Close disconnects from the daemon.
func (c *Client) Close() error {
	return c.pair.Close()
}
