package controller

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ikkim/storecover-backend/config"
	"github.com/ikkim/storecover-backend/internal/app/service"
	apperrors "github.com/ikkim/storecover-backend/internal/errors"
	"github.com/ikkim/storecover-backend/internal/middleware"
	"github.com/ikkim/storecover-backend/internal/storage"
	ws "github.com/ikkim/storecover-backend/internal/websocket"
)

type ImportController struct {
	queue    service.ImportQueue
	hub      *ws.Hub
	cfg      config.ImportConfig
	upgrader websocket.Upgrader
}

func NewImportController(queue service.ImportQueue, hub *ws.Hub, cfg config.ImportConfig, allowedOrigins []string) *ImportController {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &ImportController{
		queue: queue,
		hub:   hub,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// non-browser clients send no origin
				return origin == "" || origins[origin]
			},
		},
	}
}

// UploadFile queues a roster file for import
// POST /api/v1/imports
func (ctrl *ImportController) UploadFile(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	role, ok := middleware.GetUserRole(c)
	if !ok {
		apperrors.Unauthorized(c, "Authentication required")
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		log.Warn("Import upload without file", map[string]interface{}{
			"error": err.Error(),
		})
		apperrors.BadRequest(c, apperrors.ValidationRequired, "A file field is required")
		return
	}

	if err := storage.ValidateExtension(header.Filename, ctrl.cfg.AllowedExtensions); err != nil {
		apperrors.ParseAndRespond(c, err, "import")
		return
	}
	if err := storage.ValidateFileSize(header.Size, ctrl.cfg.MaxUploadBytes); err != nil {
		apperrors.ParseAndRespond(c, err, "import")
		return
	}

	f, err := header.Open()
	if err != nil {
		log.Error("Failed to open uploaded file", err)
		apperrors.RespondWithError(c, http.StatusBadRequest, apperrors.UploadFailed, "Could not read the uploaded file")
		return
	}
	defer f.Close()

	// the multipart header size is client supplied
	data, err := io.ReadAll(io.LimitReader(f, ctrl.cfg.MaxUploadBytes+1))
	if err != nil {
		log.Error("Failed to read uploaded file", err)
		apperrors.RespondWithError(c, http.StatusBadRequest, apperrors.UploadFailed, "Could not read the uploaded file")
		return
	}
	if err := storage.ValidateFileSize(int64(len(data)), ctrl.cfg.MaxUploadBytes); err != nil {
		apperrors.ParseAndRespond(c, err, "import")
		return
	}

	job, err := ctrl.queue.Enqueue(c.Request.Context(), header.Filename, string(data), middleware.GetActor(c), role)
	if err != nil {
		log.Warn("Import rejected", map[string]interface{}{
			"filename": header.Filename,
			"error":    err.Error(),
		})
		apperrors.ParseAndRespond(c, err, "import")
		return
	}

	log.Info("Import queued", map[string]interface{}{
		"job_id":   job.JobID,
		"filename": job.Filename,
		"bytes":    len(data),
	})

	c.JSON(http.StatusAccepted, gin.H{
		"job": job,
	})
}

// ListJobs returns every retained job, newest first
// GET /api/v1/imports
func (ctrl *ImportController) ListJobs(c *gin.Context) {
	jobs, err := ctrl.queue.GetAllJobs()
	if err != nil {
		apperrors.ParseAndRespond(c, err, "import")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GET /api/v1/imports/:id
func (ctrl *ImportController) GetJob(c *gin.Context) {
	job, err := ctrl.queue.GetJob(c.Param("id"))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "import")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job": job,
	})
}

// DELETE /api/v1/imports/:id
func (ctrl *ImportController) DeleteJob(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	role, ok := middleware.GetUserRole(c)
	if !ok {
		apperrors.Unauthorized(c, "Authentication required")
		return
	}

	jobID := c.Param("id")
	if err := ctrl.queue.DeleteJob(jobID, role); err != nil {
		apperrors.ParseAndRespond(c, err, "import")
		return
	}

	log.Info("Import job deleted", map[string]interface{}{
		"job_id": jobID,
	})

	c.JSON(http.StatusOK, gin.H{
		"message": "Import job deleted",
	})
}

// Events upgrades to a websocket that receives every job event
// GET /api/v1/imports/ws
func (ctrl *ImportController) Events(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		apperrors.Unauthorized(c, "Authentication required")
		return
	}

	conn, err := ctrl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade to WebSocket", err)
		return
	}

	client := ws.NewClient(ctrl.hub, &ws.Conn{Conn: conn}, userID)
	ctrl.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	log.Info("WebSocket connection established", map[string]interface{}{
		"user_id": userID,
	})
}
