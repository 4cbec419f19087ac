package wsvolume

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/curve-cloneadm/clone-engine/pkg/cloneengine"
)

// newMockServer starts an httptest server that accepts one WebSocket
// connection and answers every request with handle's result, mirroring
// tnsapi's client_test.go mock server shape.
func newMockServer(t *testing.T, handle func(method string, params json.RawMessage) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var req request
			if err := json.Unmarshal(raw, &req); err != nil {
				continue
			}
			result, rpcErr := handle(req.Method, req.Params)
			resp := response{ID: req.ID, Error: rpcErr}
			if result != nil {
				resultRaw, err := json.Marshal(result)
				if err != nil {
					t.Fatalf("marshal mock result: %v", err)
				}
				resp.Result = resultRaw
			}
			respRaw, err := json.Marshal(resp)
			if err != nil {
				t.Fatalf("marshal mock response: %v", err)
			}
			if err := conn.Write(ctx, websocket.MessageText, respRaw); err != nil {
				return
			}
		}
	}))
}

func dialMock(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return c
}

func TestGetFileInfoRoundTrip(t *testing.T) {
	srv := newMockServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		if method != "volume.getFileInfo" {
			return nil, &rpcError{Code: 1, Message: "unexpected method " + method}
		}
		return fileInfoResult{
			Info:   cloneengine.FileInfo{FileId: 42, Owner: "alice", Length: 1024, SegmentSize: 512, ChunkSize: 64, SeqNum: 1},
			Status: int(cloneengine.FileStatusOK),
		}, nil
	})
	defer srv.Close()

	c := dialMock(t, srv)
	defer c.Close()

	info, status, err := c.GetFileInfo(context.Background(), "vol-a", "alice")
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if status != cloneengine.FileStatusOK {
		t.Fatalf("status = %v, want OK", status)
	}
	if info.FileId != 42 || info.Owner != "alice" || info.Length != 1024 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestCallPropagatesRPCError(t *testing.T) {
	srv := newMockServer(t, func(_ string, _ json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: 7, Message: "permission denied"}
	})
	defer srv.Close()

	c := dialMock(t, srv)
	defer c.Close()

	_, _, err := c.GetFileInfo(context.Background(), "vol-a", "alice")
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

func TestDeleteFileRoundTrip(t *testing.T) {
	srv := newMockServer(t, func(method string, _ json.RawMessage) (interface{}, *rpcError) {
		if method != "volume.deleteFile" {
			return nil, &rpcError{Code: 1, Message: "unexpected method"}
		}
		return deleteFileResult{Status: int(cloneengine.FileStatusNotExist)}, nil
	})
	defer srv.Close()

	c := dialMock(t, srv)
	defer c.Close()

	status, err := c.DeleteFile(context.Background(), "vol-a", "alice", 42)
	if err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if status != cloneengine.FileStatusNotExist {
		t.Fatalf("status = %v, want NotExist", status)
	}
}

func TestCallAfterCloseFails(t *testing.T) {
	srv := newMockServer(t, func(_ string, _ json.RawMessage) (interface{}, *rpcError) {
		return fileInfoResult{}, nil
	})
	defer srv.Close()

	c := dialMock(t, srv)
	c.Close()

	_, _, err := c.GetFileInfo(context.Background(), "vol-a", "alice")
	if err == nil {
		t.Fatal("expected error after Close, got nil")
	}
}
