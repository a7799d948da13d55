// Package process implements the wire-contract Git collaborator of
// spec.md §6.2: length-prefixed binary request/response messages over a
// unix domain socket to a co-located process. It satisfies the same
// gitcollab.GitOps interface as localgit so the Worker and SyncExecutor
// never know which transport backs a given deployment.
package process

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/nopea-io/nopea/internal/gitcollab"
	"github.com/nopea-io/nopea/internal/reconcile"
)

// request is the envelope sent for every operation; only the fields the
// operation needs are populated.
type request struct {
	Op     string `json:"op"`
	URL    string `json:"url,omitempty"`
	Branch string `json:"branch,omitempty"`
	Path   string `json:"path,omitempty"`
	Subpath string `json:"subpath,omitempty"`
	Depth  int    `json:"depth,omitempty"`
	File   string `json:"file,omitempty"`
	SHA    string `json:"sha,omitempty"`
}

// response is either {ok: value} or {err: string}.
type response struct {
	OK  json.RawMessage `json:"ok,omitempty"`
	Err string          `json:"err,omitempty"`
}

// Client talks to a co-located Git operation process over a unix stream.
// Requests are serialized: Design Note §9 treats the collaborator as a
// single external process with one request in flight at a time, so Client
// holds a mutex across the full round trip rather than relying on the
// server to queue.
type Client struct {
	socketPath string
	restartCmd []string

	callMu sync.Mutex // held for the whole of each call
	mu     sync.Mutex
	conn   net.Conn
}

// New returns a client that dials socketPath lazily on first use and
// restarts restartCmd transparently if the collaborator process exits,
// per spec.md §6.2 ("Process-exit of the collaborator MUST be detected").
func New(socketPath string, restartCmd []string) *Client {
	return &Client{socketPath: socketPath, restartCmd: restartCmd}
}

var _ gitcollab.GitOps = (*Client)(nil)

func (c *Client) ensureConn(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		if restartErr := c.restart(ctx); restartErr != nil {
			return nil, fmt.Errorf("gitcollab: dial %s: %w (restart failed: %v)", c.socketPath, err, restartErr)
		}
		conn, err = d.DialContext(ctx, "unix", c.socketPath)
		if err != nil {
			return nil, fmt.Errorf("gitcollab: dial %s after restart: %w", c.socketPath, err)
		}
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) restart(ctx context.Context) error {
	if len(c.restartCmd) == 0 {
		return fmt.Errorf("no restart command configured")
	}
	cmd := exec.CommandContext(ctx, c.restartCmd[0], c.restartCmd[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	// Give the collaborator a moment to create its socket.
	time.Sleep(200 * time.Millisecond)
	return nil
}

// call sends req and decodes the response, restarting the collaborator and
// retrying exactly once if the connection was already dead (process
// crashed between calls — spec.md §6.2/§7 CollaboratorCrashed).
func (c *Client) call(ctx context.Context, req request) (json.RawMessage, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		resp, err = c.roundTrip(ctx, req)
		if err != nil {
			return nil, reconcile.NewSyncError(reconcile.KindCollaboratorCrashed, err)
		}
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("gitcollab: %s", resp.Err)
	}
	return resp.OK, nil
}

func (c *Client) roundTrip(ctx context.Context, req request) (response, error) {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return response{}, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return response{}, err
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := conn.Write(header[:]); err != nil {
		return response{}, err
	}
	if _, err := conn.Write(payload); err != nil {
		return response{}, err
	}

	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return response{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return response{}, err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return response{}, err
	}
	return resp, nil
}

// Sync implements gitcollab.GitOps.
func (c *Client) Sync(ctx context.Context, url, branch, path string, depth int) (string, error) {
	raw, err := c.call(ctx, request{Op: "sync", URL: url, Branch: branch, Path: path, Depth: depth})
	if err != nil {
		return "", err
	}
	var sha string
	if err := json.Unmarshal(raw, &sha); err != nil {
		return "", err
	}
	return sha, nil
}

// Files implements gitcollab.GitOps.
func (c *Client) Files(ctx context.Context, path, subpath string) ([]string, error) {
	raw, err := c.call(ctx, request{Op: "files", Path: path, Subpath: subpath})
	if err != nil {
		return nil, err
	}
	var files []string
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Read implements gitcollab.GitOps. File contents travel base64-encoded.
func (c *Client) Read(ctx context.Context, path, file string) ([]byte, error) {
	raw, err := c.call(ctx, request{Op: "read", Path: path, File: file})
	if err != nil {
		return nil, err
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(encoded)
}

type headResponse struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Head implements gitcollab.GitOps.
func (c *Client) Head(ctx context.Context, path string) (gitcollab.HeadInfo, error) {
	raw, err := c.call(ctx, request{Op: "head", Path: path})
	if err != nil {
		return gitcollab.HeadInfo{}, err
	}
	var h headResponse
	if err := json.Unmarshal(raw, &h); err != nil {
		return gitcollab.HeadInfo{}, err
	}
	return gitcollab.HeadInfo{SHA: h.SHA, Author: h.Author, Email: h.Email, Message: h.Message, Timestamp: h.Timestamp}, nil
}

// Checkout implements gitcollab.GitOps.
func (c *Client) Checkout(ctx context.Context, path, sha string) (string, error) {
	raw, err := c.call(ctx, request{Op: "checkout", Path: path, SHA: sha})
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out, nil
}

// LsRemote implements gitcollab.GitOps.
func (c *Client) LsRemote(ctx context.Context, url, branch string) (string, error) {
	raw, err := c.call(ctx, request{Op: "lsremote", URL: url, Branch: branch})
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out, nil
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
