package main

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/gin-gonic/gin"
)

// usageScope limits escreventes and atendentes to their own calls.
func usageScope(c *gin.Context) (*int, bool) {
	ctx := c.Request.Context()
	if role, _ := utils.GetUserRoleFromContext(ctx); role == string(models.UserRoleTabeliao) {
		return nil, true
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	return &userId, true
}

func parseDateQuery(c *gin.Context, name string, endOfDay bool) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	d, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ", expected YYYY-MM-DD"})
		return nil, false
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1)
	}
	return &d, true
}

func parseUsageFilter(c *gin.Context) (models.AiUsageFilter, bool) {
	filter := models.AiUsageFilter{
		Flow:   strings.TrimSpace(c.Query("flow")),
		Model:  strings.TrimSpace(c.Query("modelo")),
		Status: aiflows.UsageStatus(strings.TrimSpace(c.Query("status"))),
		Search: c.Query("q"),
	}
	switch filter.Status {
	case "", aiflows.UsageSuccess, aiflows.UsageError, aiflows.UsageCancelled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return filter, false
	}
	var ok bool
	if filter.From, ok = parseDateQuery(c, "from", false); !ok {
		return filter, false
	}
	if filter.To, ok = parseDateQuery(c, "to", true); !ok {
		return filter, false
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must not be after to"})
		return filter, false
	}
	if filter.UserId, ok = usageScope(c); !ok {
		return filter, false
	}
	return filter, true
}

func (a *App) listAiUsageHandler(c *gin.Context) {
	filter, ok := parseUsageFilter(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	after, _ := strconv.Atoi(c.Query("after"))
	page, err := models.ListAiUsageLogs(c.Request.Context(), filter, limit, after)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": page})
}

func (a *App) getAiUsageHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	userId, ok := usageScope(c)
	if !ok {
		return
	}
	row, err := models.GetAiUsageLog(c.Request.Context(), id, userId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": row})
}

func (a *App) aiUsageStatsHandler(c *gin.Context) {
	filter, ok := parseUsageFilter(c)
	if !ok {
		return
	}
	stats, err := models.GetAiUsageStats(c.Request.Context(), filter, a.today())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (a *App) aiUsageCostsHandler(c *gin.Context) {
	filter, ok := parseUsageFilter(c)
	if !ok {
		return
	}
	costs, err := models.GetAiUsageCosts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": costs})
}

func (a *App) cleanupAiUsageHandler(c *gin.Context) {
	days := models.DefaultAiUsageRetentionDays
	if raw := strings.TrimSpace(c.Query("dias")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dias"})
			return
		}
		days = n
	}
	deleted, err := models.CleanupAiUsageLogs(c.Request.Context(), days, a.today())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": deleted, "diasRetencao": days}})
}

func (a *App) exportAiUsageHandler(c *gin.Context) {
	filter, ok := parseUsageFilter(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := models.ExportAiUsageXlsx(c.Request.Context(), filter, &buf); err != nil {
		respondError(c, err)
		return
	}
	filename := fmt.Sprintf("uso-ia-%s.xlsx", a.today().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
