// Package frontend is a reference JSON-over-HTTP control plane for the
// clone/recover engine. The real front end is out of scope;
// this package exists to give admission, listing, and cleanup a concrete,
// runnable surface, the same role driver.Driver's gRPC server plays for
// the CSI plugin (pkg/driver/driver.go), adapted from gRPC to plain HTTP
// since this engine exposes no CSI service boundary.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/curve-cloneadm/clone-engine/pkg/cloneengine"
)

// Config configures the HTTP front end.
type Config struct {
	Addr string
}

// Server is the reference HTTP front end over an Engine.
type Server struct {
	engine *cloneengine.Engine
	http   *http.Server
}

// NewServer builds a Server that serves cfg.Addr, routing admission,
// listing, and cleanup requests to engine.
func NewServer(cfg Config, engine *cloneengine.Engine) *Server {
	s := &Server{engine: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tasks", s.handleCreate)
	mux.HandleFunc("GET /v1/tasks", s.handleList)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/tasks/{id}/cleanup", s.handleCleanup)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP front end; it blocks until Shutdown is
// called or an unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	klog.Infof("clone-engine front end listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP front end.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type createTaskRequest struct {
	Source      string `json:"source"`
	User        string `json:"user"`
	Destination string `json:"destination"`
	IsLazy      bool   `json:"isLazy"`
	Recover     bool   `json:"recover"`
}

type taskResponse struct {
	TaskId      string    `json:"taskId"`
	User        string    `json:"user"`
	TaskType    string    `json:"taskType"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	FileType    string    `json:"fileType"`
	IsLazy      bool      `json:"isLazy"`
	Status      string    `json:"status"`
	NextStep    string    `json:"nextStep"`
	Progress    uint32    `json:"progress"`
	CreateTime  time.Time `json:"createTime"`
}

func toResponse(info cloneengine.CloneInfo) taskResponse {
	return taskResponse{
		TaskId:      string(info.TaskId),
		User:        info.User,
		TaskType:    info.TaskType.String(),
		Source:      info.Source,
		Destination: info.Destination,
		FileType:    info.FileType.String(),
		IsLazy:      info.IsLazy,
		Status:      info.Status.String(),
		NextStep:    info.NextStep.String(),
		Progress:    info.Progress,
		CreateTime:  info.CreateTime,
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cloneengine.ErrInternal, "decode request: "+err.Error())
		return
	}

	taskType := cloneengine.TaskTypeClone
	if req.Recover {
		taskType = cloneengine.TaskTypeRecover
	}

	info, err := s.engine.CloneOrRecoverPre(r.Context(), cloneengine.CloneOrRecoverRequest{
		Source:      req.Source,
		User:        req.User,
		Destination: req.Destination,
		IsLazy:      req.IsLazy,
		TaskType:    taskType,
	})
	if err != nil {
		writeTaskError(w, err)
		return
	}

	// The task dispatcher/worker pool that actually drives the Step
	// Executor is out of scope; this reference front end
	// dispatches inline so the engine has an end-to-end runnable path.
	go s.engine.Dispatch(context.Background(), info)

	writeJSON(w, http.StatusAccepted, toResponse(info))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.TaskMetaStore.GetCloneInfoList(r.Context())
	if err != nil {
		writeTaskError(w, err)
		return
	}
	resp := make([]taskResponse, 0, len(list))
	for _, info := range list {
		resp = append(resp, toResponse(info))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := cloneengine.TaskId(r.PathValue("id"))
	info, found, err := s.engine.TaskMetaStore.GetCloneInfo(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if !found {
		writeError(w, cloneengine.ErrFileNotExist, "task "+string(id)+" not found")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(info))
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	id := cloneengine.TaskId(r.PathValue("id"))
	user := r.URL.Query().Get("user")

	info, err := s.engine.CleanCloneOrRecoverTaskPre(r.Context(), user, id)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	go s.engine.DispatchCleanup(context.Background(), info)

	writeJSON(w, http.StatusAccepted, toResponse(info))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		klog.Errorf("frontend: failed to encode response: %v", err)
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code codes.Code, message string) {
	writeJSON(w, httpStatusForCode(code), errorResponse{Code: code.String(), Message: message})
}

// writeTaskError maps an engine error to its boundary code and an HTTP status.
func writeTaskError(w http.ResponseWriter, err error) {
	code := codes.Internal
	if st, ok := status.FromError(err); ok {
		code = st.Code()
	}
	writeError(w, code, err.Error())
}

func httpStatusForCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Aborted:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.AlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
