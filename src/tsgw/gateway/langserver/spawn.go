package langserver

import (
	"context"
	"encoding/json"
	"io"
	"os/exec"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SpawnFunc starts a child language server, wires handler to receive its
// server-initiated messages, and returns the connection plus a dispose
// function that releases the child's resources.
type SpawnFunc func(ctx context.Context, handler jsonrpc2.Handler) (jsonrpc2.Conn, func() error, error)

// CommandSpawn spawns the configured language server command speaking
// JSON-RPC over stdio.
func CommandSpawn(command string, args []string, logger *zap.SugaredLogger) SpawnFunc {
	return func(ctx context.Context, handler jsonrpc2.Handler) (jsonrpc2.Conn, func() error, error) {
		cmd := exec.Command(command, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, nil, err
		}

		conn := jsonrpc2.NewConn(jsonrpc2.NewStream(stdioPipe{stdout, stdin}))
		conn.Go(ctx, handler)

		dispose := func() error {
			err := stdin.Close()
			if cmd.Process != nil {
				err = multierr.Append(err, cmd.Process.Kill())
			}
			waitErr := cmd.Wait()
			if _, ok := waitErr.(*exec.ExitError); waitErr != nil && !ok {
				err = multierr.Append(err, waitErr)
			}
			return err
		}
		logger.Infow("spawned language server", "command", command, "pid", cmd.Process.Pid)
		return conn, dispose, nil
	}
}

// stdioPipe adapts a child's stdout/stdin pair to io.ReadWriteCloser.
type stdioPipe struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (p stdioPipe) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p stdioPipe) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p stdioPipe) Close() error {
	return multierr.Append(p.r.Close(), p.w.Close())
}

func diagnosticsParams(req jsonrpc2.Request) (*protocol.PublishDiagnosticsParams, error) {
	params := protocol.PublishDiagnosticsParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, err
	}
	return &params, nil
}
