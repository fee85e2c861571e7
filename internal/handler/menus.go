// Package handler implements the HTTP surface of the tap-to-route service.
package handler

import (
	"net/http"

	"github.com/FooledKiwi/taproute/internal/locale"
	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/gin-gonic/gin"
)

// ListCostingModels handles GET /api/v1/costing-models
//
// Response 200:
//
//	[{"name":"auto","title":"Auto"},{"name":"auto_shorter","title":"Shorter Distance Auto"},...]
func (h *Handler) ListCostingModels(c *gin.Context) {
	type costingJSON struct {
		Name  routing.CostingModel `json:"name"`
		Title string               `json:"title"`
	}

	out := make([]costingJSON, len(routing.CostingModels))
	for i, m := range routing.CostingModels {
		out[i] = costingJSON{Name: m, Title: m.Title()}
	}
	c.JSON(http.StatusOK, out)
}

// ListLocales handles GET /api/v1/locales
//
// Response 200:
//
//	[{"title":"English","locale":"en-US"},...,{"title":"Pirate","locale":"pirate"}]
func (h *Handler) ListLocales(c *gin.Context) {
	c.JSON(http.StatusOK, locale.Narration)
}
