package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned for requests issued against a closed client and
// delivered to requests pending when the client closes.
var ErrClosed = errors.New("mcp: client closed")

// scanBufferSize bounds a single JSON-RPC line on stdout.
const scanBufferSize = 1 << 20

// Client owns one MCP server subprocess and speaks line-framed JSON-RPC
// over its stdio. One alive child per server id at a time; requests from
// concurrent goroutines are correlated by id.
type Client struct {
	config ServerConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *Response
	started bool
	closed  bool

	notifications chan *Notification
	done          chan struct{}
}

func NewClient(config ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:        config,
		logger:        logger.With("mcp_server", config.ID),
		pending:       make(map[int64]chan *Response),
		notifications: make(chan *Notification, 16),
		done:          make(chan struct{}),
	}
}

// Config returns the manifest entry backing this client.
func (c *Client) Config() ServerConfig { return c.config }

// Notifications delivers server-initiated messages. The channel drops
// when its buffer fills; notifications are advisory.
func (c *Client) Notifications() <-chan *Notification { return c.notifications }

// Start spawns the child process and issues the initialize handshake.
// An initialize failure is logged but leaves the client usable.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	cmd := exec.Command(c.config.Command, c.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("mcp: stdin pipe for %s: %w", c.config.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("mcp: stdout pipe for %s: %w", c.config.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("mcp: stderr pipe for %s: %w", c.config.ID, err)
	}
	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("mcp: start %s: %w", c.config.ID, err)
	}
	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout
	c.started = true
	c.mu.Unlock()

	go c.readLoop()
	go c.logStderr(stderr)
	go func() {
		cmd.Wait()
		c.logger.Info("mcp server exited")
		c.Close()
	}()

	if err := c.initialize(ctx); err != nil {
		c.logger.Warn("initialize failed, continuing", "error", err)
	}
	return nil
}

// startWithPipes attaches the client to an existing stdio pair instead of
// spawning a process. Tests drive the protocol through it.
func (c *Client) startWithPipes(stdin io.WriteCloser, stdout io.Reader) {
	c.mu.Lock()
	c.stdin = stdin
	c.stdout = stdout
	c.started = true
	c.mu.Unlock()
	go c.readLoop()
}

func (c *Client) initialize(ctx context.Context) error {
	_, err := c.Request(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo": map[string]any{
			"name":    "relay",
			"version": "1.0.0",
		},
		"capabilities": map[string]any{},
	})
	return err
}

// Request sends a JSON-RPC request and blocks until the matching
// response arrives, the context expires, or the client closes.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if !c.started {
		c.mu.Unlock()
		return nil, fmt.Errorf("mcp: client %s not started", c.config.ID)
	}
	id := c.nextID.Add(1)
	ch := make(chan *Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("mcp: encode request: %w", err)
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	_, err = c.stdin.Write(line)
	c.writeMu.Unlock()
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("mcp: write to %s: %w", c.config.ID, err)
	}

	select {
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	case resp := <-ch:
		if resp == nil {
			return nil, ErrClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.processLine(line)
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("stdout read ended", "error", err)
	}
	c.Close()
}

// processLine routes one stdout line: messages with an id resolve a
// pending request; messages without one are notifications. Parse errors
// are logged and skipped.
func (c *Client) processLine(line []byte) {
	var probe struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		c.logger.Warn("unparseable line from server", "error", err)
		return
	}
	if probe.ID != nil {
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("unparseable response", "error", err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- &resp
		} else {
			c.logger.Debug("response for unknown id", "id", resp.ID)
		}
		return
	}
	var note Notification
	if err := json.Unmarshal(line, &note); err != nil {
		c.logger.Warn("unparseable notification", "error", err)
		return
	}
	select {
	case c.notifications <- &note:
	default:
		c.logger.Debug("notification dropped, buffer full", "method", note.Method)
	}
}

func (c *Client) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.logger.Debug("server stderr", "line", scanner.Text())
	}
}

// Close tears the client down: the child is killed, every pending
// request is rejected, and future requests fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan *Response)
	cmd := c.cmd
	stdin := c.stdin
	c.mu.Unlock()

	close(c.done)
	for _, ch := range pending {
		close(ch)
	}
	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	return nil
}

// Closed reports whether the client has been torn down.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
