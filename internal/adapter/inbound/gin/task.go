package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clipforge/server/internal/module/generation"
	"github.com/clipforge/server/internal/module/task"
)

// processVideoFields are the body fields accepted by POST /process-video.
var processVideoFields = []string{
	generation.ParamScript,
	generation.ParamVoice,
	generation.ParamSpeed,
	generation.ParamTransitions,
	generation.ParamOutputFormat,
}

// TaskAdapter serves task submission and status.
type TaskAdapter struct {
	tasks TaskService
}

// NewTaskAdapter creates a new task HTTP adapter.
func NewTaskAdapter(tasks TaskService) *TaskAdapter {
	return &TaskAdapter{tasks: tasks}
}

// RegisterRoutes registers task routes. submit guards the routes that create tasks.
func (a *TaskAdapter) RegisterRoutes(r *gin.RouterGroup, submit ...gin.HandlerFunc) {
	r.POST("/process-video", append(submit, a.ProcessVideo)...)
	r.GET("/task-status/:taskId", a.GetTaskStatus)

	tasks := r.Group("/tasks")
	{
		tasks.POST("", append(submit, a.SubmitTask)...)
		tasks.GET("", a.ListTasks)
		tasks.GET("/:taskId", a.GetTaskStatus)
		tasks.DELETE("/:taskId", a.CancelTask)
	}
}

// ProcessVideo submits a video-assembly task.
//
//	@Summary		Submit video assembly
//	@Description	Queue a video-assembly task from a script. Unknown body fields are ignored.
//	@Tags			Tasks
//	@Accept			json
//	@Produce		json
//	@Param			request	body		object	true	"script, voice, speed, transitions, outputFormat"
//	@Success		202		{object}	map[string]interface{}	"success, taskId"
//	@Failure		400		{object}	map[string]string	"Invalid request"
//	@Failure		429		{object}	map[string]string	"Rate limit exceeded"
//	@Failure		503		{object}	map[string]string	"Queue full"
//	@Router			/process-video [post]
func (a *TaskAdapter) ProcessVideo(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	params := make(task.Params, len(processVideoFields))
	for _, key := range processVideoFields {
		if v, ok := body[key]; ok {
			params[key] = v
		}
	}

	id, err := a.tasks.Submit(c.Request.Context(), task.KindVideoAssembly, params)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "taskId": id})
}

type submitTaskRequest struct {
	Kind   task.Kind   `json:"kind" binding:"required"`
	Params task.Params `json:"params"`
}

// SubmitTask submits a task of any kind.
//
//	@Summary		Submit task
//	@Description	Queue a task of any registered kind
//	@Tags			Tasks
//	@Accept			json
//	@Produce		json
//	@Param			request	body		submitTaskRequest	true	"Task kind and parameters"
//	@Success		202		{object}	map[string]interface{}	"success, taskId"
//	@Failure		400		{object}	map[string]string	"Invalid request or unknown kind"
//	@Failure		429		{object}	map[string]string	"Rate limit exceeded"
//	@Failure		503		{object}	map[string]string	"Queue full"
//	@Router			/tasks [post]
func (a *TaskAdapter) SubmitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "kind is required")
		return
	}
	if req.Params == nil {
		req.Params = task.Params{}
	}

	id, err := a.tasks.Submit(c.Request.Context(), req.Kind, req.Params)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "taskId": id})
}

// GetTaskStatus returns a task snapshot.
//
//	@Summary		Get task status
//	@Description	Return the latest snapshot of a task
//	@Tags			Tasks
//	@Produce		json
//	@Param			taskId	path		string	true	"Task ID"
//	@Success		200		{object}	map[string]interface{}	"success, task"
//	@Failure		404		{object}	map[string]string	"Task not found"
//	@Router			/task-status/{taskId} [get]
func (a *TaskAdapter) GetTaskStatus(c *gin.Context) {
	t, err := a.tasks.GetStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "task": t})
}

// ListTasks lists retained tasks, newest first.
//
//	@Summary		List tasks
//	@Description	List retained tasks, newest first
//	@Tags			Tasks
//	@Produce		json
//	@Param			kind		query		string	false	"Filter by kind"
//	@Param			status	query		string	false	"Filter by status"
//	@Param			limit		query		int		false	"Page size (max 500)"
//	@Success		200		{object}	map[string]interface{}	"success, tasks, count"
//	@Router			/tasks [get]
func (a *TaskAdapter) ListTasks(c *gin.Context) {
	tasks, err := a.tasks.List(c.Request.Context(), taskFilter(c))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "tasks": tasks, "count": len(tasks)})
}

// CancelTask cancels a pending or running task.
//
//	@Summary		Cancel task
//	@Description	Cancel a pending or running task
//	@Tags			Tasks
//	@Produce		json
//	@Param			taskId	path		string	true	"Task ID"
//	@Success		202		{object}	map[string]interface{}
//	@Failure		404		{object}	map[string]string	"Task not found"
//	@Failure		409		{object}	map[string]string	"Task already finished"
//	@Router			/tasks/{taskId} [delete]
func (a *TaskAdapter) CancelTask(c *gin.Context) {
	if err := a.tasks.Cancel(c.Request.Context(), c.Param("taskId")); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true})
}
