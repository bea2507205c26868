package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rexliu/topics/pkg/config"
	"github.com/rexliu/topics/pkg/ipc"
)

const callTimeout = 30 * time.Second

func (g *globals) socketPath() (string, error) {
	if g.socket != "" {
		return g.socket, nil
	}
	cfg, err := config.LoadProfile(g.profile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config not found in %s (run 'topics init --profile %s')", g.profile, g.profile)
		}
		return "", fmt.Errorf("load config: %w", err)
	}
	return config.ResolvePath(g.profile, cfg.IPC.SocketPath), nil
}

// call sends method with params marshaled as JSON and returns the raw result.
func (g *globals) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	socket, err := g.socketPath()
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if params != nil {
		if raw, err = json.Marshal(params); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	resp, err := ipc.Call(ctx, socket, method, raw)
	if err != nil {
		var rpcErr *ipc.Error
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("daemon error: %s (%s)", rpcErr.Message, rpcErr.Code)
		}
		return nil, err
	}
	return resp.Result, nil
}

// printJSON re-indents raw for terminal output.
func printJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// callAndPrint is the common shape of read-only commands.
func (g *globals) callAndPrint(ctx context.Context, w io.Writer, method string, params any) error {
	raw, err := g.call(ctx, method, params)
	if err != nil {
		return err
	}
	return printJSON(w, raw)
}
