package controllers

import (
	"net/http"
	"time"

	"github.com/rzbill/feedmux/internal/feeds"
	logpkg "github.com/rzbill/feedmux/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	feeds   *FeedsController
}

// NewControllerRegistry initializes all controllers over the feeds service.
func NewControllerRegistry(svc *feeds.Service, heartbeat time.Duration, logger logpkg.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(svc),
		feeds:   NewFeedsController(svc, heartbeat, logger),
	}
}

// RegisterAllRoutes registers every controller's routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.feeds.RegisterRoutes(mux)
}
