package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/definitions"
	"github.com/lysyi3m/api-comb/app/fetcher"
	"github.com/lysyi3m/api-comb/app/importer"
	"github.com/lysyi3m/api-comb/app/ndjson"
	"github.com/lysyi3m/api-comb/app/scheduler"
	"github.com/lysyi3m/api-comb/app/tasks"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxPayloadSize      = 32 << 20
)

func NewHandler(store Store, runner Runner, inspector Inspector, definitions *definitions.Cache,
	dispatcher tasks.DispatcherInterface, cache ResponseCache, version string) *Handler {
	return &Handler{
		store:       store,
		runner:      runner,
		inspector:   inspector,
		definitions: definitions,
		dispatcher:  dispatcher,
		cache:       cache,
		version:     version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	}

	if configs, err := h.store.List(c.Request.Context()); err == nil {
		active := 0
		for _, cfg := range configs {
			if cfg.Active {
				active++
			}
		}
		health["imports"] = len(configs)
		health["active_imports"] = active
	} else {
		slog.Error("Database error", "operation", "list_imports", "error", err)
		health["status"] = "degraded"
	}

	health["loaded_definitions"] = h.definitions.Count()

	if h.cache != nil {
		health["cache"] = h.cache.Health(c.Request.Context())
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIListImports(c *gin.Context) {
	configs, err := h.store.List(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_imports", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	imports := make([]importSummary, 0, len(configs))
	for _, cfg := range configs {
		imports = append(imports, newSummary(cfg, h.runner.IsRunning(cfg.ID)))
	}

	c.JSON(http.StatusOK, gin.H{
		"imports": imports,
		"total":   len(imports),
	})
}

func (h *Handler) APIGetImport(c *gin.Context) {
	cfg, ok := h.lookup(c)
	if !ok {
		return
	}

	headerNames := make([]string, 0, len(cfg.Headers))
	for name := range cfg.Headers {
		headerNames = append(headerNames, name)
	}
	sort.Strings(headerNames)

	c.JSON(http.StatusOK, importDetails{
		importSummary:   newSummary(cfg, h.runner.IsRunning(cfg.ID)),
		Version:         cfg.Version,
		TargetType:      cfg.TargetType,
		LanguageRouting: cfg.LanguageRouting,
		APIURL:          cfg.APIURL,
		HTTPMethod:      cfg.HTTPMethod,
		AuthType:        cfg.AuthType,
		HeaderNames:     headerNames,
		JSONPath:        cfg.JSONPath,
		TimeoutSeconds:  cfg.TimeoutSeconds,
		IdentifierPath:  cfg.IdentifierPath,
		FieldMappings:   cfg.FieldMappings,
		Filters:         cfg.Filters,
		IntervalValue:   cfg.IntervalValue,
		TimeOfDay:       cfg.TimeOfDay,
		DayOfWeek:       cfg.DayOfWeek.String(),
		DayOfMonth:      cfg.DayOfMonth,
		MaxRetries:      cfg.MaxRetries,
		CreatedAt:       cfg.CreatedAt,
		UpdatedAt:       cfg.UpdatedAt,
	})
}

func (h *Handler) APIGetHistory(c *gin.Context) {
	cfg, ok := h.lookup(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.store.ListHistory(c.Request.Context(), cfg.ID, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_history", "import", cfg.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	history := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		warnings := []string{}
		if rec.Warnings != "" {
			if err := json.Unmarshal([]byte(rec.Warnings), &warnings); err != nil {
				slog.Warn("Malformed warnings in history", "import", cfg.Name, "id", rec.ID, "error", err)
			}
		}

		history = append(history, historyEntry{
			ID:            rec.ID,
			ExecutedAt:    rec.ExecutedAt,
			Success:       rec.Success,
			ItemsReceived: rec.ItemsReceived,
			ItemsImported: rec.ItemsImported,
			ItemsSkipped:  rec.ItemsSkipped,
			ItemsFailed:   rec.ItemsFailed,
			DurationMs:    rec.DurationMs,
			ErrorMessage:  rec.ErrorMessage,
			Warnings:      warnings,
			WasRetry:      rec.WasRetry,
			WasScheduled:  rec.WasScheduled,
			RetryAttempt:  rec.RetryAttempt,
			JobToken:      rec.JobToken,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"import":  cfg.Name,
		"history": history,
		"total":   len(history),
	})
}

func (h *Handler) APIRunImport(c *gin.Context) {
	cfg, ok := h.lookup(c)
	if !ok {
		return
	}

	if h.runner.IsRunning(cfg.ID) {
		c.JSON(http.StatusConflict, gin.H{"error": scheduler.ErrAlreadyRunning.Error()})
		return
	}

	task := tasks.NewRunImportTask(cfg, scheduler.TriggerManual, h.runner)
	if err := h.dispatcher.EnqueueTask(task); err != nil {
		slog.Error("Error enqueueing run task", "import", cfg.Name, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue run task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Import run enqueued",
		"task": gin.H{
			"id":   task.ID,
			"type": task.Type,
		},
	})
}

func (h *Handler) APITestConnection(c *gin.Context) {
	cfg, ok := h.lookup(c)
	if !ok {
		return
	}

	result := h.inspector.TestConnection(c.Request.Context(), cfg)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) APIPreviewImport(c *gin.Context) {
	cfg, ok := h.lookup(c)
	if !ok {
		return
	}

	var req previewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
	}

	preview, err := h.inspector.PreviewImport(c.Request.Context(), cfg, importer.TargetSchema{
		TypeName: req.TypeName,
		Fields:   req.Fields,
	})
	if err != nil {
		var fe *fetcher.FetchError
		switch {
		case errors.Is(err, importer.ErrInvalidConfiguration):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.As(err, &fe):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": fe.Kind.String()})
		default:
			slog.Error("Preview failed", "import", cfg.Name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	warnings := preview.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"import":         cfg.Name,
		"items_received": preview.ItemsReceived,
		"items":          itemViews(preview.Items),
		"warnings":       warnings,
	})
}

func (h *Handler) APIReloadImport(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing import name parameter"})
		return
	}

	def, err := h.definitions.Load(name)
	if errors.Is(err, definitions.ErrNotFound) {
		if err := h.store.Deactivate(c.Request.Context(), name); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Import definition not found"})
				return
			}
			slog.Error("Database error", "operation", "deactivate", "import", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Definition removed, import deactivated",
			"import":  gin.H{"name": name, "active": false},
		})
		return
	}
	if err != nil {
		slog.Error("Error reloading definition", "import", name, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Failed to reload definition",
			"details": err.Error(),
		})
		return
	}

	if h.cache != nil {
		key := fetcher.SourceKey(importer.SourceFor(def.Configuration()))
		if err := h.cache.Delete(c.Request.Context(), key); err != nil {
			slog.Warn("Failed to evict cached response", "import", name, "error", err)
		}
	}

	syncTask := tasks.NewSyncDefinitionTask(def, h.store, h.runner)
	if err := h.dispatcher.EnqueueTask(syncTask); err != nil {
		slog.Error("Error enqueueing sync task", "import", name, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue sync task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Definition reloaded and sync task enqueued",
		"import": gin.H{
			"name":      name,
			"active":    def.IsActive(),
			"url":       def.Source.URL,
			"frequency": def.Schedule.Frequency,
		},
		"tasks": []gin.H{
			{
				"id":   syncTask.ID,
				"type": syncTask.Type,
			},
		},
	})
}

func (h *Handler) APIValidateNDJSON(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	payload := string(body)
	valid := ndjson.IsValid(payload)
	items := 0
	if valid {
		items = len(ndjson.Parse(payload))
	}

	c.JSON(http.StatusOK, gin.H{
		"valid": valid,
		"items": items,
	})
}

// lookup resolves :name to a stored configuration, writing the error
// response itself when it fails.
func (h *Handler) lookup(c *gin.Context) (*database.ImportConfiguration, bool) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing import name parameter"})
		return nil, false
	}

	cfg, err := h.store.GetByName(c.Request.Context(), name)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Import not found"})
		return nil, false
	}
	if err != nil {
		slog.Error("Database error", "operation", "get_import", "import", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}

	return cfg, true
}
