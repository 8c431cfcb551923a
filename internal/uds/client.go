package uds

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
}

func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Send performs one request/response exchange. The deadline is the earlier
// of ctx's and the client timeout.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to connect to daemon at %s: %w\n"+
				"Is the daemon running? Start it with: orchestra daemon",
			c.socketPath, err,
		)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &resp, nil
}

func (c *Client) SendCommand(ctx context.Context, command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, req)
}

// Call sends command and decodes a successful response's data into out
// (which may be nil). A failed response is returned as *ErrorDetail.
func (c *Client) Call(ctx context.Context, command string, params, out any) error {
	resp, err := c.SendCommand(ctx, command, params)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error != nil {
			return resp.Error
		}
		return &ErrorDetail{Code: ErrCodeInternal, Message: "request failed without detail"}
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", command, err)
	}
	return nil
}
