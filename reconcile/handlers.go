package reconcile

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/exchange_backend/config"
	"bitbucket.org/mmdatafocus/exchange_backend/models"
	"bitbucket.org/mmdatafocus/exchange_backend/utils"
)

type TriggerRunRequest struct {
	Pass         string `json:"pass"`
	ForceRefresh bool   `json:"force_refresh"`
}

// TriggerRunHandler queues a manual reconciliation pass. The pass itself runs
// asynchronously; the response carries only the accepted request.
func TriggerRunHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			req.Pass = models.ReconcilePassFast
		}
		if req.Pass == "" {
			req.Pass = models.ReconcilePassFast
		}
		if req.Pass != models.ReconcilePassFast && req.Pass != models.ReconcilePassSlow {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pass must be fast or slow"})
			return
		}

		payload := RunTriggerPayload{
			Pass:         req.Pass,
			TriggeredBy:  models.ReconcileTriggeredManual,
			ForceRefresh: req.ForceRefresh,
		}
		if err := PublishRunTrigger(c.Request.Context(), payload); err != nil {
			// No Pub/Sub in this deployment: run inline in the background.
			ctx := utils.SetSkipScopeGuardInContext(c.Request.Context())
			go func() {
				if req.Pass == models.ReconcilePassSlow {
					_, _ = orchestrator.RunSlowPass(ctx, models.ReconcileTriggeredManual, req.ForceRefresh)
				} else {
					_, _ = orchestrator.RunFastPass(ctx, models.ReconcileTriggeredManual, req.ForceRefresh)
				}
			}()
		}
		c.JSON(http.StatusAccepted, gin.H{"pass": req.Pass, "force_refresh": req.ForceRefresh})
	}
}

// RunsHandler lists recent reconciliation runs, newest first.
func RunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		var runs []models.ReconcileRun
		if err := config.GetDB().WithContext(c.Request.Context()).
			Order("id DESC").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

// RunDetailHandler returns one run with its recorded errors.
func RunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runId, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())

		var run models.ReconcileRun
		if err := db.Where("id = ?", runId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var runErrors []models.ReconcileError
		if err := db.Where("run_id = ?", runId).Order("id").Find(&runErrors).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"run": run, "errors": runErrors})
	}
}

// ScopeStatusHandler reports the caller's scope: configuration, cache
// freshness, registry fetch health and active order counts by status.
func ScopeStatusHandler(scratch ScratchStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeId, err := resolveScopeID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetScopeIdInContext(c.Request.Context(), scopeId)
		db := config.GetDB().WithContext(ctx)

		var cfg models.ScopeConfig
		if err := db.Where("scope_id = ?", scopeId).Take(&cfg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "scope not configured"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		type statusCount struct {
			Status string `json:"status"`
			Count  int64  `json:"count"`
		}
		var counts []statusCount
		if err := db.Model(&models.ExchangeOrder{}).
			Select("status, COUNT(*) AS count").
			Where("scope_id = ?", scopeId).
			Group("status").
			Scan(&counts).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var cachedContracts int64
		if err := db.Model(&models.CachedContract{}).
			Where("scope_id = ?", scopeId).
			Count(&cachedContracts).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"scope":                      cfg,
			"order_counts":               counts,
			"cached_contracts":           cachedContracts,
			"consecutive_fetch_failures": scratch.ScopeFailureCount(scopeId),
		})
	}
}

// resolveScopeID pulls the caller's scope from the authenticated context, or
// from the scope_id query parameter for internal operator calls.
func resolveScopeID(c *gin.Context) (string, error) {
	if scopeId, ok := utils.GetScopeIdFromContext(c.Request.Context()); ok && strings.TrimSpace(scopeId) != "" {
		return scopeId, nil
	}
	if scopeId := strings.TrimSpace(c.Query("scope_id")); scopeId != "" {
		return scopeId, nil
	}
	return "", errors.New("scope_id is required")
}
