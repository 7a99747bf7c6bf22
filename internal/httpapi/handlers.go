package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fleetgrid/control-plane/internal/apperr"
	"github.com/fleetgrid/control-plane/internal/fleetpath"
	"github.com/fleetgrid/control-plane/pkg/models"
)

func (h *Handlers) getState(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	state, err := a.GetState(r.Context())
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) increment(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	counter, err := a.Increment(r.Context(), 1)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"counter": counter})
}

func (h *Handlers) getMessages(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)
	page, err := a.GetMessages(r.Context(), limit, offset)
	if err != nil {
		apperr.WriteJSON(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handlers) postMessage(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	var body struct {
		From    string            `json:"from"`
		Content string            `json:"content"`
		Type    models.MessageType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteJSON(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	if body.Type == "" {
		body.Type = models.MessageDirect
	}
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if err := a.ReceiveMessage(r.Context(), body.From, body.Content, body.Type); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (h *Handlers) deleteSubtree(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if err := a.DeleteSubtree(r.Context()); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handlers) getInventoryStock(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	snapshot, err := a.InventoryList(r.Context())
	if err != nil {
		apperr.WriteJSON(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handlers) postInventoryStock(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	var update models.InventoryUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		apperr.WriteJSON(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	item, err := a.StockOp(r.Context(), update)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "update": item})
}

func (h *Handlers) getInventoryQuery(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	sku := r.URL.Query().Get("sku")
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	item, err := a.StockQueryBySKU(r.Context(), sku)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if item == nil {
		apperr.WriteJSON(w, apperr.NotFound("sku %q not found at %s", sku, owner.Path.String()))
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handlers) postInventorySync(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	var body struct {
		Updates []models.InventoryUpdate `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteJSON(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	result, err := a.InventorySync(r.Context(), body.Updates)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) getInventoryAlerts(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	alerts, err := a.ListAlerts(r.Context())
	if err != nil {
		apperr.WriteJSON(w, apperr.Internal(err))
		return
	}
	critical := 0
	for _, al := range alerts {
		if al.Severity == models.SeverityCritical {
			critical++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts, "totalAlerts": len(alerts), "criticalAlerts": critical,
	})
}

func (h *Handlers) getAIAnalyze(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	sku := r.URL.Query().Get("sku")
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	analysis, err := a.Analyze(r.Context(), sku)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"insights": analysis})
}

func (h *Handlers) postAIForecast(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	var body struct {
		SKU string `json:"sku"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteJSON(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	forecasts, err := a.Forecast(r.Context(), body.SKU)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"forecasts": forecasts})
}

func (h *Handlers) getAIInsights(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	a, err := h.Registry.GetOrCreate(r.Context(), owner)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	insights, err := a.Insights(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		apperr.WriteJSON(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (h *Handlers) debugDB(w http.ResponseWriter, r *http.Request, owner fleetpath.OwnerKey) {
	a, ok := h.Registry.Lookup(owner)
	if !ok {
		apperr.WriteJSON(w, apperr.NotFound("no live agent at %s", owner.String()))
		return
	}
	state, err := a.GetState(r.Context())
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"owner": owner.String(), "state": state})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
