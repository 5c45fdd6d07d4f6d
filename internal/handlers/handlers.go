package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/ai-detect/internal/assets"
	"github.com/example/ai-detect/internal/auth"
	"github.com/example/ai-detect/internal/config"
	"github.com/example/ai-detect/internal/normalize"
	"github.com/example/ai-detect/internal/repository"
	"github.com/example/ai-detect/internal/usecase"
)

// NewRouter assembles the gin engine: recovery, request logging, permissive
// CORS, the published-asset file server and the API routes.
func NewRouter(cfg *config.Config, logger *zap.Logger, uc *usecase.DetectionUseCase, authMiddleware gin.HandlerFunc) *gin.Engine {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	engine.MaxMultipartMemory = cfg.MaxUploadBytes

	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	// Published assets must be readable by the external detector exactly as
	// written. Caching stays short so sweeper deletions propagate.
	engine.Use(assetHeaders())
	engine.Use(static.Serve("/uploads", static.LocalFile(cfg.UploadDir, false)))

	RegisterRoutes(engine, cfg, uc, authMiddleware)
	return engine
}

// RegisterRoutes wires the HTTP handlers to the gin router. The health probe
// and the published assets stay public even when the auth middleware is set:
// the external detector fetches /uploads anonymously.
func RegisterRoutes(router *gin.Engine, cfg *config.Config, uc *usecase.DetectionUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("")
	if authMiddleware != nil {
		api.Use(authMiddleware)
	}

	api.POST("/detect-image", detectImageHandler(cfg, uc))
	api.GET("/result/:id", getResultHandler(uc))
	api.GET("/result/:id/duplicates", getDuplicatesHandler(uc))
	api.GET("/metrics", getMetricsHandler(uc))
}

// requestLogger emits one structured line per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// assetHeaders sets response headers for published assets: short public
// caching, and no sniffing so the stored bytes are served exactly as
// classified.
func assetHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/uploads/") {
			c.Header("Cache-Control", "public, max-age=300")
			c.Header("X-Content-Type-Options", "nosniff")
		}
		c.Next()
	}
}

func detectImageHandler(cfg *config.Config, uc *usecase.DetectionUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("image")
		if err != nil {
			// Input mistakes answer with the same envelope successful runs
			// use, so clients only ever parse one shape.
			renderNeutral(c, "No image file uploaded: multipart field 'image' is required")
			return
		}
		if file.Size > cfg.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the maximum upload size"})
			return
		}

		src, err := file.Open()
		if err != nil {
			renderNeutral(c, "Uploaded image could not be read")
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			renderNeutral(c, "Uploaded image could not be read")
			return
		}

		subject, _ := auth.SubjectFromContext(c.Request.Context())
		upload := usecase.Upload{
			Filename: file.Filename,
			ClientID: subject,
			Data:     data,
		}

		outcome, err := uc.DetectImage(c.Request.Context(), upload, assets.OriginFromRequest(c.Request, cfg.PublicScheme))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish image"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"requestId": outcome.RequestID,
			"aiScore":   outcome.Result.AIScore,
			"label":     outcome.Result.Label,
			"version":   outcome.Result.Version,
			"raw":       outcome.Result.Raw,
			"selfCheck": outcome.SelfCheck,
		})
	}
}

// renderNeutral answers an unusable request with a well-formed envelope:
// neutral score, explanatory label, nothing upstream.
func renderNeutral(c *gin.Context, label string) {
	result := normalize.Neutral(label)
	c.JSON(http.StatusOK, gin.H{
		"requestId": "",
		"aiScore":   result.AIScore,
		"label":     result.Label,
		"version":   result.Version,
		"raw":       nil,
		"selfCheck": nil,
	})
}

func getResultHandler(uc *usecase.DetectionUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Param("id")

		log, err := uc.GetResult(c.Request.Context(), requestID)
		if errors.Is(err, usecase.ErrStillProcessing) {
			c.JSON(http.StatusAccepted, gin.H{"request_id": requestID, "status": "processing"})
			return
		}
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		c.JSON(http.StatusOK, resultJSON(log))
	}
}

func getDuplicatesHandler(uc *usecase.DetectionUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Param("id")

		report, err := uc.GetDuplicateReport(c.Request.Context(), requestID)
		if errors.Is(err, usecase.ErrStillProcessing) {
			c.JSON(http.StatusAccepted, gin.H{"request_id": requestID, "status": "processing"})
			return
		}
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, dup := range report.Duplicates {
			duplicates = append(duplicates, resultJSON(dup))
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id": report.Request.RequestID,
			"sha1_hash":  report.Request.SHA1Hash,
			"count":      len(duplicates),
			"duplicates": duplicates,
		})
	}
}

func getMetricsHandler(uc *usecase.DetectionUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func resultJSON(log *repository.DetectionLog) gin.H {
	return gin.H{
		"request_id":      log.RequestID,
		"outcome":         log.Outcome,
		"reason":          log.Reason,
		"ai_score":        log.AIScore,
		"label":           log.Label,
		"version":         log.Version,
		"format":          log.Format,
		"width":           log.Width,
		"height":          log.Height,
		"sha1_hash":       log.SHA1Hash,
		"self_check_ok":   log.SelfCheckOK,
		"upstream_status": log.UpstreamStatus,
		"duration_ms":     log.DurationMs,
		"created_at":      log.CreatedAt,
	}
}
