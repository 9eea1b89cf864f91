package adapter

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

// ideClient drives the IDE side of a net.Pipe against a live Adapter.
type ideClient struct {
	conn net.Conn
	seq  int
}

func newIDEClient(t *testing.T) (*ideClient, net.Conn) {
	t.Helper()
	ideSide, adapterSide := net.Pipe()
	t.Cleanup(func() { ideSide.Close() })
	return &ideClient{conn: ideSide}, adapterSide
}

func (c *ideClient) send(req dap.RequestMessage) {
	c.seq++
	req.GetRequest().Seq = c.seq
	req.GetRequest().Type = "request"
	if err := dap.WriteProtocolMessage(c.conn, req); err != nil {
		panic(err)
	}
}

func (c *ideClient) recvUntil(t *testing.T, match func(dap.Message) bool) dap.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		msg, err := dap.ReadProtocolMessage(c.conn)
		require.NoError(t, err)
		if match(msg) {
			return msg
		}
	}
	t.Fatal("deadline exceeded waiting for message")
	return nil
}

func writeTestProgram(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "x.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\ny = 2\nz = 3\n"), 0o644))
	return path
}

func TestAdapterInitializeHandshakeOrdering(t *testing.T) {
	client, adapterConn := newIDEClient(t)

	a := New(adapterConn, adapterConn, nil)
	go a.Serve()

	client.send(&dap.InitializeRequest{Request: dap.Request{Command: "initialize"}})

	resp := client.recvUntil(t, func(m dap.Message) bool {
		_, ok := m.(*dap.InitializeResponse)
		return ok
	})
	require.True(t, resp.(*dap.InitializeResponse).Success)

	ev := client.recvUntil(t, func(m dap.Message) bool {
		_, ok := m.(*dap.InitializedEvent)
		return ok
	})
	require.NotNil(t, ev)
}

func TestAdapterLaunchSetBreakpointsConfigurationDoneStop(t *testing.T) {
	client, adapterConn := newIDEClient(t)

	a := New(adapterConn, adapterConn, nil)
	go a.Serve()

	client.send(&dap.InitializeRequest{Request: dap.Request{Command: "initialize"}})
	client.recvUntil(t, func(m dap.Message) bool { _, ok := m.(*dap.InitializeResponse); return ok })
	client.recvUntil(t, func(m dap.Message) bool { _, ok := m.(*dap.InitializedEvent); return ok })

	program := writeTestProgram(t)
	client.send(&dap.LaunchRequest{
		Request:   dap.Request{Command: "launch"},
		Arguments: []byte(`{"program":"` + program + `"}`),
	})
	launchResp := client.recvUntil(t, func(m dap.Message) bool { _, ok := m.(*dap.LaunchResponse); return ok })
	require.True(t, launchResp.(*dap.LaunchResponse).Success)

	client.send(&dap.SetBreakpointsRequest{
		Request: dap.Request{Command: "setBreakpoints"},
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: program},
			Breakpoints: []dap.SourceBreakpoint{{Line: 2}},
		},
	})
	sbResp := client.recvUntil(t, func(m dap.Message) bool { _, ok := m.(*dap.SetBreakpointsResponse); return ok })
	bps := sbResp.(*dap.SetBreakpointsResponse).Body.Breakpoints
	require.Len(t, bps, 1)
	require.True(t, bps[0].Verified)

	client.send(&dap.ConfigurationDoneRequest{Request: dap.Request{Command: "configurationDone"}})
	client.recvUntil(t, func(m dap.Message) bool { _, ok := m.(*dap.ConfigurationDoneResponse); return ok })

	stopped := client.recvUntil(t, func(m dap.Message) bool { _, ok := m.(*dap.StoppedEvent); return ok })
	se := stopped.(*dap.StoppedEvent)
	require.Equal(t, "breakpoint", se.Body.Reason)
	require.Equal(t, 1, se.Body.ThreadId)
}
