package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/pkg/response"
)

type TaskHandler struct {
	taskService *services.TaskService
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(taskService *services.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

func taskParams(c *gin.Context) (projectID, taskID uint, ok bool) {
	if projectID, ok = paramID(c, "id"); !ok {
		return
	}
	taskID, ok = paramID(c, "task_id")
	return
}

// List
// GET /api/projects/:id/tasks
func (h *TaskHandler) List(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.TaskListRequest
	if !bindQuery(c, &req) {
		return
	}

	resp, err := h.taskService.List(c.Request.Context(), projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// GetByID
// GET /api/projects/:id/tasks/:task_id
func (h *TaskHandler) GetByID(c *gin.Context) {
	projectID, taskID, ok := taskParams(c)
	if !ok {
		return
	}

	task, err := h.taskService.Get(c.Request.Context(), projectID, taskID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

// Create
// POST /api/projects/:id/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.CreateTaskRequest
	if !bindJSON(c, &req) {
		return
	}

	task, err := h.taskService.Create(c.Request.Context(), projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}

// Update
// PUT /api/projects/:id/tasks/:task_id
func (h *TaskHandler) Update(c *gin.Context) {
	projectID, taskID, ok := taskParams(c)
	if !ok {
		return
	}

	var req services.UpdateTaskRequest
	if !bindJSON(c, &req) {
		return
	}

	task, err := h.taskService.Update(c.Request.Context(), projectID, taskID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

// Move
// PUT /api/projects/:id/tasks/:task_id/move
func (h *TaskHandler) Move(c *gin.Context) {
	projectID, taskID, ok := taskParams(c)
	if !ok {
		return
	}

	var req services.MoveTaskRequest
	if !bindJSON(c, &req) {
		return
	}

	task, err := h.taskService.Move(c.Request.Context(), projectID, taskID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

// Assign
// POST /api/projects/:id/tasks/:task_id/assignees
func (h *TaskHandler) Assign(c *gin.Context) {
	projectID, taskID, ok := taskParams(c)
	if !ok {
		return
	}

	var req services.AssignTaskRequest
	if !bindJSON(c, &req) {
		return
	}

	task, err := h.taskService.Assign(c.Request.Context(), projectID, taskID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

// Unassign
// DELETE /api/projects/:id/tasks/:task_id/assignees/:user_id
func (h *TaskHandler) Unassign(c *gin.Context) {
	projectID, taskID, ok := taskParams(c)
	if !ok {
		return
	}
	assigneeID, ok := paramID(c, "user_id")
	if !ok {
		return
	}

	task, err := h.taskService.Unassign(c.Request.Context(), projectID, taskID, assigneeID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

// Delete
// DELETE /api/projects/:id/tasks/:task_id
func (h *TaskHandler) Delete(c *gin.Context) {
	projectID, taskID, ok := taskParams(c)
	if !ok {
		return
	}

	if err := h.taskService.Delete(c.Request.Context(), projectID, taskID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
