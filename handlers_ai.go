package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/middlewares"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
	"github.com/cartorio-digital/cartorio_backend/workflow"
	"github.com/gin-gonic/gin"
)

const searchCandidateLimit = 40

func (a *App) extractAtoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	def := workflow.SyncManual
	if a.Config.Settings().ExtractionAutoSync {
		def = workflow.SyncAuto
	}
	mode, err := workflow.ParseSyncMode(c.Query("sync"), def)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := a.Sync.ExtractAct(c.Request.Context(), id, mode, a.reconcileOptions())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (a *App) verifyAtoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	opts := a.reconcileOptions()
	// an act is verified against whatever clients exist; only minute checks may require a match
	opts.RequireMatch = false
	report, err := a.Sync.VerifyAct(c.Request.Context(), id, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (a *App) validateAtoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ato, err := models.GetAto(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	report, err := a.Flows.AutomatedValidation(aiflows.WithOperation(ctx, fmt.Sprintf("ato:%d", id)), ato.Conteudo)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (a *App) checkMinuteHandler(c *gin.Context) {
	username, ok := sessionUsername(c)
	if !ok {
		return
	}
	var req workflow.MinuteCheckRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := a.Sync.CheckMinute(c.Request.Context(), username, req, a.reconcileOptions())
	if errors.Is(err, reconcile.ErrNoMatchingClients) && res != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "data": res})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

type searchHitResponse struct {
	Ato    *models.Ato `json:"ato"`
	Motivo string      `json:"motivo"`
}

// keyword prefilter in the database, then ranking by the model
func (a *App) searchHandler(c *gin.Context) {
	var req struct {
		Query string `json:"query"`
	}
	if !bindJSON(c, &req) {
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	ctx := c.Request.Context()
	atos, err := models.SearchAtoCandidates(ctx, query, searchCandidateLimit)
	if err != nil {
		respondError(c, err)
		return
	}
	candidates := make([]aiflows.SearchCandidate, 0, len(atos))
	for _, ato := range atos {
		candidates = append(candidates, aiflows.SearchCandidate{
			ID:     ato.ID,
			Tipo:   ato.Tipo,
			Data:   ato.Data.Format("2006-01-02"),
			Partes: ato.Partes,
			Trecho: aiflows.Snippet(ato.Conteudo),
		})
	}
	hits, err := a.Flows.SemanticSearch(ctx, query, candidates)
	if err != nil {
		respondError(c, err)
		return
	}

	ids := make([]int, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	found, err := middlewares.GetAtos(ctx, ids)
	if err != nil {
		respondError(c, err)
		return
	}
	byId := make(map[int]*models.Ato, len(found))
	for _, ato := range found {
		byId[ato.ID] = ato
	}
	results := make([]searchHitResponse, 0, len(hits))
	for _, h := range hits {
		if ato, ok := byId[h.ID]; ok {
			results = append(results, searchHitResponse{Ato: ato, Motivo: h.Motivo})
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}
