package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rexliu/topics/pkg/config"
	"github.com/rexliu/topics/pkg/ipc"
)

// message is one newline-delimited request from the embedding editor.
type message struct {
	ID     string          `json:"id,omitempty"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

func main() {
	profile := flag.String("profile", "./_dev_profile", "Profile directory")
	socket := flag.String("socket", "", "Override socket path")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-request timeout")
	flag.Parse()

	socketPath := *socket
	if socketPath == "" {
		cfg, err := config.LoadProfile(*profile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		socketPath = config.ResolvePath(*profile, cfg.IPC.SocketPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, os.Stdin, os.Stdout, socketPath, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "bridge exiting: %v\n", err)
		os.Exit(1)
	}
}

// serve forwards each line of r to the daemon and writes one response line to
// w. It returns nil at EOF.
func serve(ctx context.Context, r io.Reader, w io.Writer, socketPath string, timeout time.Duration) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)
	defer writer.Flush()
	enc := json.NewEncoder(writer)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			resp := forward(ctx, line, socketPath, timeout)
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			if err := writer.Flush(); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func forward(ctx context.Context, line []byte, socketPath string, timeout time.Duration) ipc.Response {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		return ipc.Response{Error: ipc.Errorf(ipc.CodeInvalidRequest, "invalid message: "+err.Error(), nil)}
	}
	if msg.Type == "" {
		return ipc.Response{ID: msg.ID, Error: ipc.Errorf(ipc.CodeInvalidRequest, "type required", nil)}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := ipc.Call(ctx, socketPath, msg.Type, msg.Params)
	var rpcErr *ipc.Error
	switch {
	case errors.As(err, &rpcErr):
		resp.ID = msg.ID
		return *resp
	case err != nil:
		return ipc.Response{ID: msg.ID, Error: ipc.Errorf(ipc.CodeInternal, err.Error(), nil)}
	}
	resp.ID = msg.ID
	return *resp
}
