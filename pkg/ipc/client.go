package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// Call sends one request over a fresh connection and waits for the response.
// A structured daemon error is returned as *Error.
func Call(ctx context.Context, socketPath, method string, params json.RawMessage) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req := Request{ID: "cli-" + newTraceID(), Type: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, payload); err != nil {
		return nil, err
	}
	respBytes, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return &resp, resp.Error
	}
	return &resp, nil
}

// Subscribe opens a stream and calls fn for every frame until the stream ends,
// fn returns an error, or ctx is cancelled.
func Subscribe(ctx context.Context, socketPath, method string, params json.RawMessage, fn func([]byte) error) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	payload, err := json.Marshal(Request{ID: "sub-" + newTraceID(), Type: method, Params: params})
	if err != nil {
		return err
	}
	if err := writeFrame(conn, payload); err != nil {
		return err
	}
	ack, err := readFrame(conn)
	if err != nil {
		return err
	}
	var resp Response
	if err := json.Unmarshal(ack, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	for {
		frame, err := readFrame(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}
