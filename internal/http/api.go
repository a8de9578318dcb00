package http

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pitara-engine/internal/domain"
	"pitara-engine/internal/downloader"
	"pitara-engine/internal/player"
	"pitara-engine/internal/storage"
)

const presignTTL = 15 * time.Minute

// Handler wires HTTP routes to the download manager and the media origin.
type Handler struct {
	manager   downloader.Manager
	storage   storage.Service
	bucket    string
	jwtSecret string
}

func NewHandler(manager downloader.Manager, store storage.Service, bucket, jwtSecret string) *Handler {
	return &Handler{
		manager:   manager,
		storage:   store,
		bucket:    bucket,
		jwtSecret: jwtSecret,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	api := router.Group("/api", authMiddleware(h.jwtSecret))
	{
		api.POST("/downloads", h.addDownload)
		api.GET("/downloads", h.listDownloads)
		api.DELETE("/downloads", h.clearDownloads)
		api.GET("/downloads/:id", h.getDownload)
		api.POST("/downloads/:id/start", h.startDownload)
		api.DELETE("/downloads/:id", h.removeDownload)
		api.GET("/downloads/:id/file", h.serveDownload)
		api.GET("/playback/source", h.playbackSource)
		api.GET("/storage/objects", h.listObjects)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type addDownloadRequest struct {
	Title         string `json:"title" binding:"required"`
	SeriesID      string `json:"seriesId" binding:"required"`
	SeriesTitle   string `json:"seriesTitle"`
	EpisodeID     string `json:"episodeId" binding:"required"`
	EpisodeNumber int    `json:"episodeNumber"`
	VideoURL      string `json:"videoUrl" binding:"required"`
	ThumbnailURL  string `json:"thumbnailUrl"`
	Quality       string `json:"quality"`
	// Start begins the transfer right away.
	Start bool `json:"start"`
}

func (h *Handler) addDownload(c *gin.Context) {
	var req addDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Quality == "" {
		req.Quality = player.DefaultQuality
	}
	if !player.ValidQuality(req.Quality) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quality"})
		return
	}

	d, err := h.manager.AddDownload(c.Request.Context(), domain.DownloadSpec{
		Title:         req.Title,
		SeriesID:      req.SeriesID,
		SeriesTitle:   req.SeriesTitle,
		EpisodeID:     req.EpisodeID,
		EpisodeNumber: req.EpisodeNumber,
		VideoURL:      req.VideoURL,
		ThumbnailURL:  req.ThumbnailURL,
		Quality:       req.Quality,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "download": d})
		return
	}

	if req.Start {
		if err := h.manager.StartDownload(c.Request.Context(), d.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "download": d})
			return
		}
		d, _ = h.manager.Get(d.ID)
	}

	c.JSON(http.StatusCreated, d)
}

func (h *Handler) listDownloads(c *gin.Context) {
	var list []domain.Download
	switch status := domain.DownloadStatus(c.Query("status")); status {
	case "":
		list = h.manager.Downloads()
	case domain.DownloadStatusPending:
		list = h.manager.PendingDownloads()
	case domain.DownloadStatusDownloading:
		list = h.manager.ActiveDownloads()
	case domain.DownloadStatusCompleted:
		list = h.manager.CompletedDownloads()
	case domain.DownloadStatusFailed:
		list = h.manager.FailedDownloads()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
		return
	}

	resp := gin.H{"downloads": list}
	if err := h.manager.Err(); err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getDownload(c *gin.Context) {
	d, ok := h.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) startDownload(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.manager.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	if err := h.manager.StartDownload(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	d, _ := h.manager.Get(id)
	c.JSON(http.StatusAccepted, d)
}

func (h *Handler) removeDownload(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.manager.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	if err := h.manager.RemoveDownload(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) clearDownloads(c *gin.Context) {
	if err := h.manager.ClearAllDownloads(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// serveDownload streams a completed download for offline playback.
func (h *Handler) serveDownload(c *gin.Context) {
	d, ok := h.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}
	if d.Status != domain.DownloadStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "download not completed"})
		return
	}
	if _, err := os.Stat(d.LocalPath); err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "local file missing"})
		return
	}
	c.File(d.LocalPath)
}

// playbackSource resolves the URI a player should load for quality. s3:// sources are presigned.
func (h *Handler) playbackSource(c *gin.Context) {
	uri := c.Query("uri")
	if uri == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uri is required"})
		return
	}
	quality := c.DefaultQuery("quality", player.DefaultQuality)
	if !player.ValidQuality(quality) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quality"})
		return
	}

	resolved := player.BuildQualityURI(uri, quality)
	if strings.HasPrefix(resolved, "s3://") {
		if h.storage == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage service not configured"})
			return
		}
		bucket, key, err := storage.ParseURI(resolved)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		url, err := h.storage.GetObjectURL(c.Request.Context(), bucket, key, presignTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"uri": url, "source": resolved, "quality": quality})
		return
	}

	c.JSON(http.StatusOK, gin.H{"uri": resolved, "source": resolved, "quality": quality})
}

func (h *Handler) listObjects(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage service not configured"})
		return
	}

	prefix := c.Query("prefix")
	objects, err := h.storage.ListObjects(c.Request.Context(), h.bucket, prefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
