package controllers

import (
	"net/http"

	"github.com/rzbill/feedmux/internal/feeds"
)

// GeneralController serves health and other service-wide endpoints.
type GeneralController struct {
	svc *feeds.Service
}

func NewGeneralController(svc *feeds.Service) *GeneralController {
	return &GeneralController{svc: svc}
}

func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
}

func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.svc.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
