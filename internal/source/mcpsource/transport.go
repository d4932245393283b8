package mcpsource

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewCommandTransport spawns the MCP server command and wires its
// stdio into an MCP transport. The returned cleanup terminates the
// subprocess.
func NewCommandTransport(name string, args ...string) (mcp.Transport, func() error, error) {
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start mcp server %s: %w", name, err)
	}

	transport := &mcp.IOTransport{
		Reader: io.NopCloser(stdout),
		Writer: stdin,
	}
	cleanup := func() error {
		stdin.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return cmd.Wait()
	}
	return transport, cleanup, nil
}
