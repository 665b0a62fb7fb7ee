package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"follow-trader/internal/follow"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	engine *follow.Engine
	logger *slog.Logger
}

// NewHandlers creates a handlers instance bound to one engine.
func NewHandlers(engine *follow.Engine, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		logger: logger.With("component", "api-handlers"),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

func (h *Handlers) writeOK(w http.ResponseWriter) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeOK(w)
}

// HandleStatus reports whether the engine is following and which
// gateways are connected.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]any{
		"active":   h.engine.Active(),
		"gateways": h.engine.ConnectedGateways(),
	})
}

// HandlePositions returns the position book.
func (h *Handlers) HandlePositions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.engine.Positions())
}

// HandleParams returns the current settings document.
func (h *Handlers) HandleParams(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.engine.Params())
}

// HandleStart activates following.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.engine.Start()
	h.writeOK(w)
}

// HandleStop deactivates following. With ?cancel=true every working
// child order is cancelled as well.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("cancel") == "true" {
		h.engine.StopAndCancel()
	} else {
		h.engine.Stop()
	}
	h.writeOK(w)
}

type setParameterRequest struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// HandleSetParameter mutates one runtime parameter.
func (h *Handlers) HandleSetParameter(w http.ResponseWriter, r *http.Request) {
	var req setParameterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.SetParameter(follow.ParamName(req.Name), req.Value); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeOK(w)
}

type setPositionRequest struct {
	ContractKey string  `json:"contract_key"`
	Field       string  `json:"field"`
	Value       float64 `json:"value"`
}

// HandleSetPosition overrides one position counter.
func (h *Handlers) HandleSetPosition(w http.ResponseWriter, r *http.Request) {
	var req setPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.SetPosition(req.ContractKey, follow.PositionField(req.Field), req.Value); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeOK(w)
}

type syncRequest struct {
	Mode        string `json:"mode"` // open | close | both | all | net | basic
	ContractKey string `json:"contract_key"`
}

// HandleSync runs one of the manual sync planners.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	switch req.Mode {
	case "open":
		h.engine.SyncOpen(req.ContractKey)
	case "close":
		h.engine.SyncClose(req.ContractKey)
	case "both":
		h.engine.SyncBoth(req.ContractKey)
	case "all":
		h.engine.SyncAll()
	case "net":
		h.engine.SyncNet(req.ContractKey, false)
	case "basic":
		h.engine.SyncNet(req.ContractKey, true)
	default:
		http.Error(w, "unknown sync mode", http.StatusBadRequest)
		return
	}
	h.writeOK(w)
}

type closeHedgedRequest struct {
	ContractKey string  `json:"contract_key"`
	Quantity    float64 `json:"quantity"`
}

// HandleCloseHedged unwinds a hedged quantity on both legs.
func (h *Handlers) HandleCloseHedged(w http.ResponseWriter, r *http.Request) {
	var req closeHedgedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.engine.CloseHedged(req.ContractKey, req.Quantity)
	h.writeOK(w)
}
