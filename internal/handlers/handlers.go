package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/example/cane-check/internal/controller"
	"github.com/example/cane-check/internal/metrics"
	"github.com/example/cane-check/internal/preview"
	"github.com/example/cane-check/internal/session"
)

// MaxUploadSize bounds a single uploaded image.
const MaxUploadSize = 10 << 20

// FormField is the multipart field carrying the selected file.
const FormField = "file"

// multipartOverhead leaves room for boundaries and part headers on top of the file itself.
const multipartOverhead = 1 << 20

type sessionResponse struct {
	SessionID string `json:"session_id"`
	controller.Snapshot
}

type dragRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// RegisterRoutes wires the session API to the Gin router.
func RegisterRoutes(router *gin.Engine, sessions *session.Manager, m *metrics.Metrics) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	router.POST("/sessions", func(c *gin.Context) {
		id, ctrl := sessions.Create()
		c.JSON(http.StatusCreated, sessionResponse{SessionID: id, Snapshot: ctrl.Snapshot()})
	})

	router.GET("/sessions/:id", withSession(sessions, func(c *gin.Context, id string, ctrl *controller.Controller) {
		c.JSON(http.StatusOK, sessionResponse{SessionID: id, Snapshot: ctrl.Snapshot()})
	}))

	router.DELETE("/sessions/:id", func(c *gin.Context) {
		if err := sessions.End(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.POST("/sessions/:id/file", withSession(sessions, func(c *gin.Context, id string, ctrl *controller.Controller) {
		file, status, err := readUpload(c)
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		var snap controller.Snapshot
		if c.DefaultQuery("source", string(controller.SourcePicker)) == string(controller.SourceDrop) {
			snap = ctrl.Drop(c.Request.Context(), file)
		} else {
			file.Source = controller.SourcePicker
			snap = ctrl.SelectFile(c.Request.Context(), file)
		}
		c.JSON(http.StatusOK, sessionResponse{SessionID: id, Snapshot: snap})
	}))

	router.POST("/sessions/:id/drag", withSession(sessions, func(c *gin.Context, id string, ctrl *controller.Controller) {
		var req dragRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "active is required"})
			return
		}
		c.JSON(http.StatusOK, sessionResponse{SessionID: id, Snapshot: ctrl.SetDragActive(*req.Active)})
	}))

	router.POST("/sessions/:id/submit", withSession(sessions, func(c *gin.Context, id string, ctrl *controller.Controller) {
		if c.Query("wait") == "true" {
			snap, ok := ctrl.Submit(c.Request.Context())
			if !ok {
				c.JSON(http.StatusConflict, sessionResponse{SessionID: id, Snapshot: snap})
				return
			}
			c.JSON(http.StatusOK, sessionResponse{SessionID: id, Snapshot: snap})
			return
		}

		snap, _, ok := ctrl.SubmitAsync(c.Request.Context())
		if !ok {
			c.JSON(http.StatusConflict, sessionResponse{SessionID: id, Snapshot: snap})
			return
		}
		c.JSON(http.StatusAccepted, sessionResponse{SessionID: id, Snapshot: snap})
	}))

	router.GET(preview.PathPrefix+":id", func(c *gin.Context) {
		payload, err := sessions.Previews().Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, preview.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load preview"})
			return
		}
		c.Header("Cache-Control", "private, no-store")
		c.Data(http.StatusOK, payload.MIMEType, payload.Data)
	})
}

func withSession(sessions *session.Manager, fn func(c *gin.Context, id string, ctrl *controller.Controller)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctrl, err := sessions.Get(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		fn(c, id, ctrl)
	}
}

func readUpload(c *gin.Context) (controller.File, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	header, err := c.FormFile(FormField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return controller.File{}, http.StatusRequestEntityTooLarge, errors.New("file too large")
		}
		return controller.File{}, http.StatusBadRequest, errors.New("file is required")
	}
	if header.Size > MaxUploadSize {
		return controller.File{}, http.StatusRequestEntityTooLarge, errors.New("file too large")
	}

	src, err := header.Open()
	if err != nil {
		return controller.File{}, http.StatusBadRequest, errors.New("unable to open file")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return controller.File{}, http.StatusInternalServerError, errors.New("failed to read file")
	}

	return controller.File{
		Name:     header.Filename,
		MIMEType: declaredType(header.Header.Get("Content-Type"), data),
		Data:     data,
	}, http.StatusOK, nil
}

// declaredType keeps the client's declared type and only sniffs the bytes
// when the client sent none.
func declaredType(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(data).String()
}
