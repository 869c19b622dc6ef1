package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/response"
)

// SearchHandler searches projects, tasks and users visible to the caller.
type SearchHandler struct {
	index *services.SearchIndex
	sync  *services.SearchSyncService
}

// NewSearchHandler creates the search and resync handler.
func NewSearchHandler(index *services.SearchIndex, sync *services.SearchSyncService) *SearchHandler {
	return &SearchHandler{index: index, sync: sync}
}

// Search
// GET /api/search?q=
func (h *SearchHandler) Search(c *gin.Context) {
	var req services.SearchRequest
	if !bindQuery(c, &req) {
		return
	}
	if len(req.Query) < 2 {
		response.BadRequest(c, "search query must be at least 2 characters")
		return
	}

	docs, err := h.index.Search(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"items": docs, "total": len(docs)})
}

// Resync rebuilds the index from the database (admin)
// POST /api/search/resync
func (h *SearchHandler) Resync(c *gin.Context) {
	result, err := h.sync.FullResync(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}
