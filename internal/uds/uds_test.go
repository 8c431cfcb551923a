package uds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/msageha/orchestra/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shortTempSockPath keeps socket paths under the 104-byte macOS limit.
func shortTempSockPath(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "orc-uds-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, name)
}

func setupTestServer(t *testing.T) (*Server, *Client, string) {
	t.Helper()
	sockPath := shortTempSockPath(t, "t.sock")
	server := NewServer(sockPath, logging.Discard())
	client := NewClient(sockPath)
	client.SetTimeout(5 * time.Second)
	return server, client, sockPath
}

func TestFraming_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req, err := NewRequest(CmdAssign, map[string]any{"task_id": "t1"})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(&buf, req))

	var got Request
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, CmdAssign, got.Command)
	assert.Equal(t, ProtocolVersion, got.ProtocolVersion)

	var params map[string]string
	require.NoError(t, got.DecodeParams(&params))
	assert.Equal(t, "t1", params["task_id"])
}

func TestFraming_LargePayload(t *testing.T) {
	var buf bytes.Buffer
	big := strings.Repeat("x", 1<<20)
	require.NoError(t, WriteFrame(&buf, map[string]string{"blob": big}))

	var got map[string]string
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Len(t, got["blob"], 1<<20)
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	buf := bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	var v map[string]any
	err := ReadFrame(buf, &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame too large")
}

func TestReadFrame_Truncated(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 0, 0, 10, '{'})
	var v map[string]any
	assert.Error(t, ReadFrame(buf, &v))
}

func TestDecodeParams_Empty(t *testing.T) {
	req := &Request{Command: CmdStatus}
	v := map[string]string{"keep": "me"}
	require.NoError(t, req.DecodeParams(&v))
	assert.Equal(t, "me", v["keep"])

	req.Params = json.RawMessage(`{bad`)
	assert.Error(t, req.DecodeParams(&v))
}

func TestServer_ProtocolVersionMismatch(t *testing.T) {
	server, client, _ := setupTestServer(t)
	require.NoError(t, server.Start())
	defer server.Stop()

	resp, err := client.Send(context.Background(), &Request{ProtocolVersion: 99, Command: CmdPing})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeProtocolMismatch, resp.Error.Code)
}

func TestServer_UnknownCommand(t *testing.T) {
	server, client, _ := setupTestServer(t)
	require.NoError(t, server.Start())
	defer server.Stop()

	err := client.Call(context.Background(), "nonexistent", nil, nil)
	var detail *ErrorDetail
	require.True(t, errors.As(err, &detail))
	assert.Equal(t, ErrCodeUnknownCommand, detail.Code)
}

func TestServer_HandlerExecution(t *testing.T) {
	server, client, _ := setupTestServer(t)
	server.Handle(CmdAssign, func(ctx context.Context, req *Request) *Response {
		var p struct {
			Agents []string `json:"agents"`
		}
		if err := req.DecodeParams(&p); err != nil {
			return ErrorResponse(ErrCodeValidation, err.Error())
		}
		if len(p.Agents) == 0 {
			return ErrorResponse(ErrCodeValidation, "agents is required")
		}
		return SuccessResponse(map[string]string{"agent": p.Agents[0]})
	})
	require.NoError(t, server.Start())
	defer server.Stop()

	var out map[string]string
	require.NoError(t, client.Call(context.Background(), CmdAssign, map[string]any{"agents": []string{"dev1"}}, &out))
	assert.Equal(t, "dev1", out["agent"])

	err := client.Call(context.Background(), CmdAssign, map[string]any{}, &out)
	var detail *ErrorDetail
	require.True(t, errors.As(err, &detail))
	assert.Equal(t, ErrCodeValidation, detail.Code)
	assert.Equal(t, "VALIDATION_ERROR: agents is required", err.Error())
}

func TestServer_HandlerPanicBecomesInternalError(t *testing.T) {
	server, client, _ := setupTestServer(t)
	server.Handle("explode", func(ctx context.Context, req *Request) *Response {
		panic("kaboom")
	})
	server.Handle(CmdPing, func(ctx context.Context, req *Request) *Response {
		return SuccessResponse(map[string]string{"status": "ok"})
	})
	require.NoError(t, server.Start())
	defer server.Stop()

	resp, err := client.SendCommand(context.Background(), "explode", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeInternal, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "kaboom")

	assert.NoError(t, client.Call(context.Background(), CmdPing, nil, nil), "server survives panic")
}

func TestServer_NilResponseIsSuccess(t *testing.T) {
	server, client, _ := setupTestServer(t)
	server.Handle(CmdShutdown, func(ctx context.Context, req *Request) *Response { return nil })
	require.NoError(t, server.Start())
	defer server.Stop()

	resp, err := client.SendCommand(context.Background(), CmdShutdown, nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestServer_MultipleClients(t *testing.T) {
	server, _, sockPath := setupTestServer(t)
	server.Handle(CmdPing, func(ctx context.Context, req *Request) *Response {
		return SuccessResponse(map[string]string{"status": "ok"})
	})
	require.NoError(t, server.Start())
	defer server.Stop()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(sockPath)
			c.SetTimeout(5 * time.Second)
			errs <- c.Call(context.Background(), CmdPing, nil, nil)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestClient_DaemonNotRunning(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "nonexistent.sock"))
	client.SetTimeout(time.Second)

	_, err := client.SendCommand(context.Background(), CmdPing, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to daemon")
	assert.Contains(t, err.Error(), "orchestra daemon")
}

func TestServer_ConnectionTimeout(t *testing.T) {
	server, client, sockPath := setupTestServer(t)
	server.SetConnTimeout(300 * time.Millisecond)
	server.Handle(CmdPing, func(ctx context.Context, req *Request) *Response {
		return SuccessResponse(nil)
	})
	require.NoError(t, server.Start())
	defer server.Stop()

	// Idle connection is closed by the server.
	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(600 * time.Millisecond)
	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, readErr := conn.Read(make([]byte, 1))
	assert.Error(t, readErr)

	assert.NoError(t, client.Call(context.Background(), CmdPing, nil, nil))
}

func TestServer_HandlerContextCancelledOnStop(t *testing.T) {
	server, client, _ := setupTestServer(t)
	started := make(chan struct{})
	server.Handle("wait", func(ctx context.Context, req *Request) *Response {
		close(started)
		<-ctx.Done()
		return ErrorResponse(ErrCodeUnavailable, "stopping")
	})
	require.NoError(t, server.Start())

	go func() {
		<-started
		server.Stop()
	}()
	resp, err := client.SendCommand(context.Background(), "wait", nil)
	if err == nil {
		assert.Equal(t, ErrCodeUnavailable, resp.Error.Code)
	}
}

func TestServer_SocketPermissions(t *testing.T) {
	server, _, sockPath := setupTestServer(t)
	require.NoError(t, server.Start())
	defer server.Stop()

	info, err := os.Stat(sockPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestServer_StopCleansUpSocket(t *testing.T) {
	server, _, sockPath := setupTestServer(t)
	require.NoError(t, server.Start())
	_, err := os.Stat(sockPath)
	require.NoError(t, err)

	server.Stop()
	server.Stop()

	_, err = os.Stat(sockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestSuccessResponse(t *testing.T) {
	resp := SuccessResponse(map[string]int{"count": 42})
	require.True(t, resp.Success)
	var data map[string]int
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, 42, data["count"])

	assert.Nil(t, SuccessResponse(nil).Data)

	bad := SuccessResponse(make(chan int))
	assert.False(t, bad.Success)
	assert.Equal(t, ErrCodeInternal, bad.Error.Code)
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse(ErrCodeNotFound, "agent dev9 not found")
	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "agent dev9 not found", resp.Error.Message)
}
