package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"
)

// fakeServer answers JSON-RPC requests over an in-process pipe pair.
type fakeServer struct {
	client *Client
	// requests received from the client, in order.
	requests chan Request
	// serverOut is written by the test to emit lines to the client.
	serverOut io.WriteCloser
}

func newFakeServer(t *testing.T, handler func(req Request) *Response) *fakeServer {
	t.Helper()
	clientToServerR, clientToServerW := io.Pipe()
	serverToClientR, serverToClientW := io.Pipe()

	c := NewClient(ServerConfig{ID: "fake", Command: "unused"}, nil)
	c.startWithPipes(clientToServerW, serverToClientR)

	fs := &fakeServer{
		client:    c,
		requests:  make(chan Request, 16),
		serverOut: serverToClientW,
	}

	go func() {
		scanner := bufio.NewScanner(clientToServerR)
		for scanner.Scan() {
			var req Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			fs.requests <- req
			if handler == nil {
				continue
			}
			if resp := handler(req); resp != nil {
				line, _ := json.Marshal(resp)
				serverToClientW.Write(append(line, '\n'))
			}
		}
	}()

	t.Cleanup(func() { c.Close() })
	return fs
}

func (fs *fakeServer) emit(t *testing.T, v any) {
	t.Helper()
	line, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := fs.serverOut.Write(append(line, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestClientRequestResponse(t *testing.T) {
	fs := newFakeServer(t, func(req Request) *Response {
		return &Response{
			JSONRPC: JSONRPCVersion,
			ID:      req.ID,
			Result:  json.RawMessage(`{"echo":"` + req.Method + `"}`),
		}
	})

	result, err := fs.client.Request(context.Background(), "tools/list", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	var parsed map[string]string
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if parsed["echo"] != "tools/list" {
		t.Errorf("result = %v", parsed)
	}
}

func TestClientConcurrentRequestsCorrelateByID(t *testing.T) {
	fs := newFakeServer(t, func(req Request) *Response {
		params, _ := json.Marshal(req.Params)
		return &Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: params}
	})

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			result, err := fs.client.Request(context.Background(), "echo", map[string]any{"i": i})
			if err != nil {
				errs <- err
				return
			}
			var parsed struct {
				I int `json:"i"`
			}
			if err := json.Unmarshal(result, &parsed); err != nil {
				errs <- err
				return
			}
			if parsed.I != i {
				errs <- errors.New("response matched wrong request")
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent request: %v", err)
		}
	}
}

func TestClientRPCError(t *testing.T) {
	fs := newFakeServer(t, func(req Request) *Response {
		return &Response{
			JSONRPC: JSONRPCVersion,
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "method not found"},
		}
	})

	_, err := fs.client.Request(context.Background(), "nope", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("code = %d", rpcErr.Code)
	}
}

func TestClientNotifications(t *testing.T) {
	fs := newFakeServer(t, nil)
	fs.emit(t, map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/progress",
		"params":  map[string]any{"pct": 50},
	})

	select {
	case note := <-fs.client.Notifications():
		if note.Method != "notifications/progress" {
			t.Errorf("method = %q", note.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestClientSkipsUnparseableLines(t *testing.T) {
	fs := newFakeServer(t, func(req Request) *Response {
		return &Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: json.RawMessage(`"ok"`)}
	})
	// Garbage before a valid exchange must not break the stream.
	fs.serverOut.Write([]byte("this is not json\n"))

	result, err := fs.client.Request(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Request after garbage: %v", err)
	}
	if string(result) != `"ok"` {
		t.Errorf("result = %s", result)
	}
}

func TestClientCloseRejectsPendingAndFuture(t *testing.T) {
	fs := newFakeServer(t, nil) // never responds

	pendingErr := make(chan error, 1)
	go func() {
		_, err := fs.client.Request(context.Background(), "hang", nil)
		pendingErr <- err
	}()

	// Wait for the request to reach the server before closing.
	select {
	case <-fs.requests:
	case <-time.After(2 * time.Second):
		t.Fatal("request never arrived")
	}
	fs.client.Close()

	select {
	case err := <-pendingErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("pending request error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not rejected")
	}

	if _, err := fs.client.Request(context.Background(), "after", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("post-close request error = %v, want ErrClosed", err)
	}
	if !fs.client.Closed() {
		t.Errorf("Closed() = false after Close")
	}
}

func TestClientContextCancellation(t *testing.T) {
	fs := newFakeServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := fs.client.Request(ctx, "hang", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}
