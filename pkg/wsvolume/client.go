// Package wsvolume is a reference cloneengine.VolumeClient implementation
// over JSON-RPC 2.0 on a WebSocket, the same wire shape tnsapi.Client uses
// to talk to the storage backend (pkg/tnsapi/client.go), adapted here to
// the volume service's clone/recover verbs instead of ZFS
// dataset/share/NVMe-oF verbs. The volume service itself is out of scope
//; this package exists so cloneengine.Engine has a concrete,
// runnable collaborator instead of only the in-memory test fakes.
package wsvolume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"k8s.io/klog/v2"

	"github.com/curve-cloneadm/clone-engine/pkg/cloneengine"
	"github.com/curve-cloneadm/clone-engine/pkg/utils"
)

// Static errors for client operations.
var (
	ErrClientClosed     = errors.New("wsvolume: client is closed")
	ErrConnectionClosed = errors.New("wsvolume: connection closed while waiting for response")
	ErrBadStatus        = errors.New("wsvolume: volume service returned an unrecognized status")
)

// request is a JSON-RPC 2.0 request.
type request struct {
	ID      string          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	Error  *rpcError       `json:"error,omitempty"`
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
}

type rpcError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("wsvolume: volume service error %d: %s", e.Code, e.Message)
}

// Client is a cloneengine.VolumeClient backed by a JSON-RPC 2.0 connection
// to the volume service.
//
//nolint:govet // fieldalignment: struct field order optimized for readability over memory layout
type Client struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *response
	closeCh chan struct{}
	url     string
	reqID   uint64
	closed  bool
}

var _ cloneengine.VolumeClient = (*Client)(nil)

// Dial connects to the volume service at url and starts the response
// reader. The caller owns the returned Client and must call Close when
// done.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsvolume: dial %s: %w", url, err)
	}

	c := &Client{
		url:     url,
		conn:    conn,
		pending: make(map[string]chan *response),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) readLoop() {
	defer c.cleanup()
	ctx := context.Background()
	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var resp response
		if err := json.Unmarshal(raw, &resp); err != nil {
			klog.Errorf("wsvolume: failed to unmarshal response: %v", err)
			continue
		}
		c.mu.Lock()
		if ch, ok := c.pending[resp.ID]; ok {
			delete(c.pending, resp.ID)
			ch <- &resp
			close(ch)
		}
		c.mu.Unlock()
	}
}

func (c *Client) cleanup() {
	c.mu.Lock()
	c.closed = true
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[string]chan *response)
	c.mu.Unlock()
	close(c.closeCh)
}

// call performs a single JSON-RPC round trip and unmarshals the result
// into out (a pointer), if non-nil.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}

	paramsRaw, err := json.Marshal(params)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("wsvolume: marshal params for %s: %w", method, err)
	}

	id := strconv.FormatUint(atomic.AddUint64(&c.reqID, 1), 10)
	req := request{ID: id, JSONRPC: "2.0", Method: method, Params: paramsRaw}
	reqRaw, err := json.Marshal(req)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("wsvolume: marshal request %s: %w", method, err)
	}

	respCh := make(chan *response, 1)
	c.pending[id] = respCh

	if err := c.conn.Write(ctx, websocket.MessageText, reqRaw); err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("wsvolume: send %s: %w", method, err)
	}
	c.mu.Unlock()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return ErrConnectionClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("wsvolume: unmarshal result for %s: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-c.closeCh:
		return ErrClientClosed
	}
}

type fileInfoResult struct {
	Info   cloneengine.FileInfo `json:"info"`
	Status int                  `json:"status"`
}

// GetFileInfo implements cloneengine.VolumeClient.
func (c *Client) GetFileInfo(ctx context.Context, name, user string) (cloneengine.FileInfo, cloneengine.FileStatus, error) {
	var res fileInfoResult
	if err := c.call(ctx, "volume.getFileInfo", map[string]string{"name": name, "user": user}, &res); err != nil {
		return cloneengine.FileInfo{}, 0, err
	}
	return res.Info, cloneengine.FileStatus(res.Status), nil
}

// CreateCloneFile implements cloneengine.VolumeClient.
func (c *Client) CreateCloneFile(ctx context.Context, name, user string, length, seqNum, chunkSize uint64) (cloneengine.FileInfo, cloneengine.FileStatus, error) {
	params := map[string]interface{}{
		"name": name, "user": user, "length": length, "seqNum": seqNum, "chunkSize": chunkSize,
	}
	var res fileInfoResult
	if err := c.call(ctx, "volume.createCloneFile", params, &res); err != nil {
		return cloneengine.FileInfo{}, 0, err
	}
	return res.Info, cloneengine.FileStatus(res.Status), nil
}

type segmentInfoResult struct {
	Info   cloneengine.SegmentInfo `json:"info"`
	Status int                     `json:"status"`
}

// GetOrAllocateSegmentInfo implements cloneengine.VolumeClient.
func (c *Client) GetOrAllocateSegmentInfo(ctx context.Context, allocateIfMissing bool, offset uint64, fileName, user string) (cloneengine.SegmentInfo, cloneengine.FileStatus, error) {
	params := map[string]interface{}{
		"allocateIfMissing": allocateIfMissing, "offset": offset, "fileName": fileName, "user": user,
	}
	var res segmentInfoResult
	if err := c.call(ctx, "volume.getOrAllocateSegmentInfo", params, &res); err != nil {
		return cloneengine.SegmentInfo{}, 0, err
	}
	return res.Info, cloneengine.FileStatus(res.Status), nil
}

// CreateCloneChunk implements cloneengine.VolumeClient.
func (c *Client) CreateCloneChunk(ctx context.Context, location string, chunkID cloneengine.ChunkIdInfo, seqNum, correctSn, chunkSize uint64) error {
	params := map[string]interface{}{
		"location": location, "chunkId": chunkID, "seqNum": seqNum, "correctSn": correctSn, "chunkSize": chunkSize,
	}
	return c.call(ctx, "volume.createCloneChunk", params, nil)
}

// CompleteCloneMeta implements cloneengine.VolumeClient.
func (c *Client) CompleteCloneMeta(ctx context.Context, name, user string) error {
	return c.call(ctx, "volume.completeCloneMeta", map[string]string{"name": name, "user": user}, nil)
}

// RecoverChunk implements cloneengine.VolumeClient.
func (c *Client) RecoverChunk(ctx context.Context, chunkID cloneengine.ChunkIdInfo, offset, length uint64) error {
	params := map[string]interface{}{"chunkId": chunkID, "offset": offset, "length": length}
	return c.call(ctx, "volume.recoverChunk", params, nil)
}

// RenameCloneFile implements cloneengine.VolumeClient.
func (c *Client) RenameCloneFile(ctx context.Context, user string, originId, destId uint64, origin, destination string) error {
	params := map[string]interface{}{
		"user": user, "originId": originId, "destId": destId, "origin": origin, "destination": destination,
	}
	return c.call(ctx, "volume.renameCloneFile", params, nil)
}

// CompleteCloneFile implements cloneengine.VolumeClient.
func (c *Client) CompleteCloneFile(ctx context.Context, name, user string) error {
	return c.call(ctx, "volume.completeCloneFile", map[string]string{"name": name, "user": user}, nil)
}

type deleteFileResult struct {
	Status int `json:"status"`
}

// DeleteFile implements cloneengine.VolumeClient.
func (c *Client) DeleteFile(ctx context.Context, name, user string, fileId uint64) (cloneengine.FileStatus, error) {
	params := map[string]interface{}{"name": name, "user": user, "fileId": fileId}
	var res deleteFileResult
	if err := c.call(ctx, "volume.deleteFile", params, &res); err != nil {
		return 0, err
	}
	return cloneengine.FileStatus(res.Status), nil
}

// dialTimeout is the per-attempt timeout DialWithRetry applies to each
// connection attempt.
const dialTimeout = 10 * time.Second

// DialWithRetry connects with a small bounded retry on network errors,
// using the exponential-backoff helper pkg/utils.WithRetry (which the
// cleanup executor's file deletes also use), since the volume service may
// not be reachable yet at clone-engine process startup.
func DialWithRetry(ctx context.Context, url string, attempts int) (*Client, error) {
	cfg := utils.DefaultRetryConfig()
	cfg.MaxAttempts = attempts
	cfg.OperationName = "connect to volume service " + url
	cfg.RetryableFunc = utils.IsRetryableNetworkError

	c, err := utils.WithRetry(ctx, cfg, func() (*Client, error) {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		client, err := Dial(dialCtx, url)
		if err != nil {
			klog.Warningf("wsvolume: connection attempt to %s failed: %v", url, err)
		}
		return client, err
	})
	if err != nil {
		return nil, fmt.Errorf("wsvolume: failed to connect to %s: %w", url, err)
	}
	return c, nil
}
