package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/media"
	"github.com/aviv90/tasker-server-sub010/internal/providers"
	"github.com/aviv90/tasker-server-sub010/internal/tasks"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// callbackBodyLimit caps provider webhook bodies.
const callbackBodyLimit = 10 << 20

// callbackTimeout bounds async processing of one webhook, fetch and
// storage of the artifact included.
const callbackTimeout = 5 * time.Minute

// generateRequest is the wire form of a generation submission.
type generateRequest struct {
	Kind         string `json:"kind"`
	Prompt       string `json:"prompt"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	ImageURL     string `json:"imageUrl,omitempty"`
	DurationSecs int    `json:"durationSecs,omitempty"`
	Instrumental bool   `json:"instrumental,omitempty"`
	AcceptText   bool   `json:"acceptText,omitempty"`
	RequestID    string `json:"requestId,omitempty"`

	FollowUp *followUpRequest `json:"followUp,omitempty"`
}

type followUpRequest struct {
	Kind   string `json:"kind"`
	Prompt string `json:"prompt,omitempty"`
}

// handleGenerate accepts a generation request. Synchronous results come
// back in the response; async work returns a ticket and the rest arrives
// on the event stream keyed by requestId.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
		return
	}

	kind, ok := types.ParseKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown media kind %q", req.Kind))
		return
	}

	gen := types.GenRequest{
		Kind:   kind,
		Prompt: req.Prompt,
		Options: types.GenOptions{
			Provider:     req.Provider,
			Model:        req.Model,
			ImageURL:     req.ImageURL,
			DurationSecs: req.DurationSecs,
			Instrumental: req.Instrumental,
			AcceptText:   req.AcceptText,
		},
		Delivery: types.DeliveryContext{
			Channel:   "api",
			RequestID: req.RequestID,
		},
	}
	if req.FollowUp != nil {
		fuKind, ok := types.ParseKind(req.FollowUp.Kind)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown follow-up kind %q", req.FollowUp.Kind))
			return
		}
		gen.FollowUp = &types.FollowUp{Kind: fuKind, Prompt: req.FollowUp.Prompt}
	}

	ticket, err := s.gw.Generate(r.Context(), gen)
	if err != nil {
		status := http.StatusBadGateway
		if providers.KindOf(err) == providers.FailUnknown {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	status := http.StatusOK
	if ticket.Async {
		status = http.StatusAccepted
	}
	writeJSON(w, status, ticket)
}

// handleTasks lists the work still waiting on a provider.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	list, err := s.gw.PendingTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": list,
		"count": len(list),
	})
}

// handleTask returns one pending task by its service-side id. Terminal
// tasks have left the registry, so a finished id reads as not found.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	t, err := s.gw.TaskByID(r.Context(), id)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleProviders lists the registered providers.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.gw.Providers(),
	})
}

// handleMedia serves a stored artifact by its store-relative path.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/api/media/")
	abs, err := media.ResolveMediaPath(s.gw.MediaStore().BaseDir(), rel)
	if err != nil {
		writeError(w, http.StatusNotFound, "media not found")
		return
	}
	if !media.FileExists(abs) {
		writeError(w, http.StatusNotFound, "media not found")
		return
	}

	if mime, err := media.DetectMimeType(abs); err == nil {
		w.Header().Set("Content-Type", mime)
	}
	http.ServeFile(w, r, abs)
}

// handleCallback receives a provider webhook. The body is parsed and
// applied off-request so the provider gets its acknowledgement without
// waiting on artifact downloads.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	provider := strings.Trim(strings.TrimPrefix(r.URL.Path, "/callbacks/"), "/")
	if provider == "" {
		writeError(w, http.StatusBadRequest, "provider required")
		return
	}

	if !s.callbackTokenOK(r) {
		L_warn("httpapi: callback with bad token", "provider", provider, "ip", getClientIP(r))
		writeError(w, http.StatusUnauthorized, "invalid callback token")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, callbackBodyLimit))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		if err := s.gw.HandleProviderCallback(ctx, provider, body); err != nil {
			L_error("httpapi: callback processing failed", "provider", provider, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

// callbackTokenOK validates the shared token a provider echoes back on
// its webhook URL. No configured token accepts every caller.
func (s *Server) callbackTokenOK(r *http.Request) bool {
	want := s.gw.Config().Auth.CallbackToken
	if want == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	if got == "" {
		got = r.Header.Get("X-Callback-Token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// handleHealthz reports liveness. Unauthenticated for load balancers.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    s.gw.Uptime().Round(time.Second).String(),
		"providers": len(s.gw.Providers()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_warn("httpapi: response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
