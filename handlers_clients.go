package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/middlewares"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/gin-gonic/gin"
)

func clientOperation(id int) string {
	return "client:" + strconv.Itoa(id)
}

const (
	summaryFlowName       = "Resumo de Histórico"
	qualificationFlowName = "Qualificação"
)

func (a *App) listClientsHandler(c *gin.Context) {
	var tipo *models.ClientTipo
	if raw := strings.TrimSpace(c.Query("tipo")); raw != "" {
		t := models.ClientTipo(strings.ToUpper(raw))
		if !t.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tipo"})
			return
		}
		tipo = &t
	}
	clients, err := models.ListClients(c.Request.Context(), c.Query("q"), tipo)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": clients})
}

func (a *App) createClientHandler(c *gin.Context) {
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var input models.NewClient
	if !bindJSON(c, &input) {
		return
	}
	client, err := models.CreateClient(c.Request.Context(), &input, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": client})
}

func (a *App) getClientHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	client, err := models.GetClient(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": client})
}

// exact name lookup; several clients may share a name. ?first=true answers
// the single oldest match, or 404.
func (a *App) clientsByNameHandler(c *gin.Context) {
	nome := strings.TrimSpace(c.Query("nome"))
	if nome == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nome is required"})
		return
	}
	if c.Query("first") == "true" {
		client, err := models.GetClientByNome(c.Request.Context(), nome)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": client})
		return
	}
	clients, err := middlewares.GetClientsByNome(c.Request.Context(), nome)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": clients})
}

func (a *App) clientsByNamesHandler(c *gin.Context) {
	var req struct {
		Nomes []string `json:"nomes"`
	}
	if !bindJSON(c, &req) {
		return
	}
	clients, err := middlewares.GetClientsByNomes(c.Request.Context(), req.Nomes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": clients})
}

func (a *App) updateClientHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var patch models.ClientPatch
	if !bindJSON(c, &patch) {
		return
	}
	client, err := models.UpdateClient(c.Request.Context(), id, &patch, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": client})
}

func (a *App) deleteClientHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	client, err := models.DeleteClient(c.Request.Context(), id, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": client})
}

func (a *App) addObservacaoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var req struct {
		Texto string `json:"texto"`
	}
	if !bindJSON(c, &req) {
		return
	}
	obs, err := models.AddClientObservacao(c.Request.Context(), id, strings.TrimSpace(req.Texto), author, models.ObservacaoOrigemManual)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": obs})
}

// audit authors are capped by the client_events.autor column
const maxAuthorLen = 150

type commitFieldsRequest struct {
	Fields []reconcile.Field `json:"fields"`
	// Author names the automated flow the fields came from, e.g.
	// "Sistema (Verificação de Minuta)". The session user is always appended.
	Author string `json:"author"`
}

// commitAuthor never lets a request replace the session identity; only a flow
// attribution may be put in front of it.
func commitAuthor(sessionUser string, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return sessionUser, nil
	}
	if !utils.IsSystemAuthor(requested) {
		return "", utils.NewValidationError("author", "author must name an automated flow, e.g. Sistema (Verificação de Minuta)")
	}
	author := utils.OnBehalfOf(requested, sessionUser)
	if len([]rune(author)) > maxAuthorLen {
		return "", utils.NewValidationError("author", "author is too long")
	}
	return author, nil
}

func (a *App) commitFieldsHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var req commitFieldsRequest
	if !bindJSON(c, &req) {
		return
	}
	author, err := commitAuthor(author, req.Author)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := a.Sync.CommitSelected(c.Request.Context(), id, req.Fields, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

// summarizes notes and events; with save=true the summary is kept as an ai observation
func (a *App) clientSummaryHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	client, err := models.GetClient(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	summary, err := a.Flows.SummarizeClientHistory(aiflows.WithOperation(ctx, clientOperation(id)), models.DescribeClientHistory(client))
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"summary": summary}
	if queryFlag(c, "save") && ctx.Err() == nil {
		obs, err := models.AddClientObservacao(ctx, id, summary, utils.SystemAuthor(summaryFlowName), models.ObservacaoOrigemAI)
		if err != nil {
			respondError(c, err)
			return
		}
		resp["observacao"] = obs
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (a *App) clientQualificationHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	client, err := models.GetClient(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	text, err := a.Flows.GenerateQualification(aiflows.WithOperation(ctx, clientOperation(id)), models.DescribeClientQualificationData(client))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"qualificacao": text}})
}

func (a *App) clientDocumentStatusHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	docs, err := models.ClientDocumentStatuses(c.Request.Context(), id, a.today())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": docs})
}

func (a *App) expiringDocumentsHandler(c *gin.Context) {
	days := models.ExpiryWarningDays
	if raw := c.Query("dias"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dias must be between 1 and 365"})
			return
		}
		days = n
	}
	docs, err := models.ListExpiringDocuments(c.Request.Context(), days, queryFlag(c, "expirados"), a.today())
	if err != nil {
		respondError(c, err)
		return
	}
	if docs == nil {
		docs = []*models.ExpiringDocument{}
	}
	c.JSON(http.StatusOK, gin.H{"data": docs})
}
