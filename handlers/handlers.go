package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"tangle-node/dag"
	"tangle-node/logger"
	"tangle-node/models"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultTipCount = 2
	maxTipCount     = models.MaxParents
)

// Handler contains the HTTP handlers of the local tangle API
type Handler struct {
	Tangle *dag.Tangle
}

// NewHandler creates and returns a new Handler instance
func NewHandler(t *dag.Tangle) *Handler {
	return &Handler{Tangle: t}
}

// SubmitRequest is the body of POST /messages. A non-zero milestone index makes the message a milestone.
type SubmitRequest struct {
	Parents        []models.MessageID    `json:"parents"`
	Body           string                `json:"body"`
	MilestoneIndex models.MilestoneIndex `json:"milestone_index,omitempty"`
}

// MessageView is a vertex as returned by the API
type MessageView struct {
	ID       models.MessageID   `json:"id"`
	State    models.VertexState `json:"state"`
	Message  *models.Message    `json:"message,omitempty"`
	Metadata models.Metadata    `json:"metadata"`
	Flags    string             `json:"flags"`
	Children []models.MessageID `json:"children"`
	IsTip    bool               `json:"is_tip"`
}

func (h *Handler) view(v *dag.Vertex) MessageView {
	meta := v.Metadata()
	return MessageView{
		ID:       v.ID(),
		State:    v.State(),
		Message:  v.Message(),
		Metadata: meta,
		Flags:    meta.Flags.String(),
		Children: v.Children(),
		IsTip:    h.Tangle.IsTip(v.ID()),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusOf maps tangle errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, dag.ErrInvalidMessage), errors.Is(err, dag.ErrInvalidTipCount):
		return http.StatusBadRequest
	case errors.Is(err, dag.ErrNotReady), errors.Is(err, dag.ErrShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, dag.ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, dag.ErrPruningTooEarly):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// SubmitMessage handles POST requests inserting a new message into the tangle
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode message", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	var msg *models.Message
	if req.MilestoneIndex != 0 {
		msg = models.NewMilestone(req.MilestoneIndex, req.Parents, []byte(req.Body))
	} else {
		msg = models.NewMessage(req.Parents, []byte(req.Body))
	}

	v, isNew, err := h.Tangle.Insert(r.Context(), msg)
	if err != nil {
		logger.Logger.Error("Failed to insert message", zap.Error(err))
		writeError(w, statusOf(err), err.Error())
		return
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
		logger.Logger.Info("Inserted message", zap.Stringer("id", msg.ID), zap.Int("parents", len(msg.Parents)))
	}
	writeJSON(w, status, h.view(v))
}

// GetMessage handles GET requests for a single vertex, read through from storage if needed
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := models.MessageIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.Tangle.Get(r.Context(), id)
	if err != nil {
		logger.Logger.Error("Failed to get message", zap.Stringer("id", id), zap.Error(err))
		writeError(w, statusOf(err), err.Error())
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, h.view(v))
}

// GetTips handles GET requests selecting up to ?count= tips to attach a new message to
func (h *Handler) GetTips(w http.ResponseWriter, r *http.Request) {
	count := defaultTipCount
	if s := r.URL.Query().Get("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxTipCount {
			writeError(w, http.StatusBadRequest, "count must be between 1 and "+strconv.Itoa(maxTipCount))
			return
		}
		count = n
	}
	tips, err := h.Tangle.SelectTips(count)
	if err != nil {
		logger.Logger.Warn("Tip selection failed", zap.Error(err))
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tips": tips})
}

// GetMilestone handles GET requests for the milestone recorded at an index
func (h *Handler) GetMilestone(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 32)
	if err != nil || index == 0 {
		writeError(w, http.StatusBadRequest, "invalid milestone index")
		return
	}
	id, ok := h.Tangle.Milestone(models.MilestoneIndex(index))
	if !ok {
		writeError(w, http.StatusNotFound, "milestone not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"index":  index,
		"id":     id,
		"solid":  models.MilestoneIndex(index) <= h.Tangle.ConfirmedMilestoneIndex(),
		"latest": h.Tangle.LatestMilestoneIndex(),
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Tangle.Status())
}

func (h *Handler) GetSolidEntryPoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"solid_entry_points": h.Tangle.SolidEntryPoints()})
}

// Prune handles POST requests pruning the tangle up to a milestone index
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid milestone index")
		return
	}
	seps, err := h.Tangle.Prune(r.Context(), models.MilestoneIndex(index))
	if err != nil {
		logger.Logger.Warn("Pruning rejected", zap.Uint64("target", index), zap.Error(err))
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"target_index":       index,
		"solid_entry_points": seps,
	})
}
