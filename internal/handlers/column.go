package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/response"
)

type ColumnHandler struct {
	columnService *services.ColumnService
}

// NewColumnHandler creates the board column handler.
func NewColumnHandler(columnService *services.ColumnService) *ColumnHandler {
	return &ColumnHandler{columnService: columnService}
}

func (h *ColumnHandler) List(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	columns, err := h.columnService.List(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, columns)
}

func (h *ColumnHandler) Create(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.ColumnRequest
	if !bindJSON(c, &req) {
		return
	}

	column, err := h.columnService.Create(c.Request.Context(), projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, column)
}

func (h *ColumnHandler) Rename(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	columnID, ok := paramID(c, "column_id")
	if !ok {
		return
	}

	var req services.ColumnRequest
	if !bindJSON(c, &req) {
		return
	}

	column, err := h.columnService.Rename(c.Request.Context(), projectID, columnID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, column)
}

func (h *ColumnHandler) Delete(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	columnID, ok := paramID(c, "column_id")
	if !ok {
		return
	}

	if err := h.columnService.Delete(c.Request.Context(), projectID, columnID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Reorder
// PUT /api/projects/:id/columns/order
func (h *ColumnHandler) Reorder(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.ReorderColumnsRequest
	if !bindJSON(c, &req) {
		return
	}

	columns, err := h.columnService.Reorder(c.Request.Context(), projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, columns)
}
