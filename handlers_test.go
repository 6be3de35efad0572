package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/middlewares"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/cartorio-digital/cartorio_backend/workflow"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestApp() *App {
	flows := aiflows.New(nil, models.DefaultPromptStore{})
	return &App{
		Config: config.NewAppConfig(config.AppSettings{
			OfficeName:         "Cartório Teste",
			NameMatchNormalize: true,
			ExpiryScanCron:     "0 7 * * *",
			ExpiryScanDays:     30,
		}),
		Flows: flows,
		Sync:  workflow.NewClientSync(workflow.DBRegistry{}, flows, workflow.NewRequestGuard()),
		Pdf:   workflow.NewLivroPdfProcessor(workflow.DBLivroPdfStore{}, workflow.GCSPdfObjects{}, flows),
	}
}

// asUser puts a logged-in user in the request context, as SessionMiddleware does.
func asUser(role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = utils.SetUsernameInContext(ctx, "maria")
		ctx = utils.SetUserNameInContext(ctx, "Maria Escrevente")
		ctx = utils.SetUserRoleInContext(ctx, string(role))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouterHealthzAndNotFound(t *testing.T) {
	r := newRouter(newTestApp(), config.GetLogger())

	if w := doRequest(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusNoContent {
		t.Fatalf("healthz: got %d, want %d", w.Code, http.StatusNoContent)
	}
	w := doRequest(r, http.MethodGet, "/nao-existe", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route: got %d, want %d", w.Code, http.StatusNotFound)
	}
	if w.Header().Get("X-Correlation-Id") == "" {
		t.Fatalf("expected a correlation id on the response")
	}
}

func TestRouterRequiresSession(t *testing.T) {
	r := newRouter(newTestApp(), config.GetLogger())
	for _, path := range []string{"/clients", "/config/app", "/conversations", "/me"} {
		if w := doRequest(r, http.MethodGet, path, ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s: got %d, want %d", path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestReadinessGate(t *testing.T) {
	ready := false
	r := newRouter(newTestApp(), config.GetLogger(), readinessGate(func() bool { return ready }))

	if w := doRequest(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusNoContent {
		t.Fatalf("healthz before ready: got %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/clients", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("before ready: got %d, want 503", w.Code)
	}
	ready = true
	if w := doRequest(r, http.MethodGet, "/clients", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("after ready: got %d, want 401", w.Code)
	}
}

func TestRespondErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", utils.NewValidationError("nome", "required"), http.StatusBadRequest},
		{"not pdf", aiflows.ErrNotPdf, http.StatusBadRequest},
		{"unauthorized", utils.ErrUnauthorized, http.StatusUnauthorized},
		{"not found", fmt.Errorf("client 3: %w", utils.ErrorRecordNotFound), http.StatusNotFound},
		{"no matching clients", reconcile.ErrNoMatchingClients, http.StatusUnprocessableEntity},
		{"flow failed", fmt.Errorf("%w: extractActDetails: timeout", aiflows.ErrFlowFailed), http.StatusBadGateway},
		{"too large", utils.ErrObjectTooLarge, http.StatusRequestEntityTooLarge},
		{"pdf in progress", models.ErrLivroProcessing, http.StatusConflict},
		{"no pdf", models.ErrLivroSemPdf, http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			respondError(c, tt.err)
			if w.Code != tt.want {
				t.Fatalf("got %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusInternalServerError && len(c.Errors) != 1 {
				t.Fatalf("expected the error to be recorded for the error logger")
			}
		})
	}
}

func TestIdParamRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-4"} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Params = gin.Params{{Key: "id", Value: raw}}
		if _, ok := idParam(c, "id"); ok {
			t.Fatalf("idParam(%q) accepted", raw)
		}
		if w.Code != http.StatusBadRequest {
			t.Fatalf("idParam(%q): got %d", raw, w.Code)
		}
	}
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Params = gin.Params{{Key: "id", Value: "12"}}
	if id, ok := idParam(c, "id"); !ok || id != 12 {
		t.Fatalf("idParam(12) = %d, %v", id, ok)
	}
}

func TestAppConfigHandlers(t *testing.T) {
	app := newTestApp()
	r := gin.New()
	r.Use(asUser(models.UserRoleTabeliao))
	r.GET("/config/app", app.getAppConfigHandler)
	r.PUT("/config/app", app.updateAppConfigHandler)

	w := doRequest(r, http.MethodPut, "/config/app", `{"extractionAutoSync": true, "officeName": " 2º Tabelionato "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT: got %d: %s", w.Code, w.Body.String())
	}
	s := app.Config.Settings()
	if !s.ExtractionAutoSync || s.OfficeName != "2º Tabelionato" {
		t.Fatalf("settings not applied: %+v", s)
	}
	if !s.NameMatchNormalize || s.ExpiryScanDays != 30 {
		t.Fatalf("fields missing from the body must be kept: %+v", s)
	}
	if !app.Config.Dirty() {
		t.Fatalf("expected config to be marked dirty")
	}

	w = doRequest(r, http.MethodGet, "/config/app", "")
	var got struct {
		Data config.AppSettings `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Data.OfficeName != "2º Tabelionato" {
		t.Fatalf("GET returned %+v", got.Data)
	}

	w = doRequest(r, http.MethodPut, "/config/app", `{"expiryScanDays": -1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative days: got %d", w.Code)
	}
}

func TestRequireRoleOnConfigUpdate(t *testing.T) {
	app := newTestApp()
	r := gin.New()
	r.Use(asUser(models.UserRoleEscrevente))
	r.PUT("/config/app", middlewares.RequireRole(models.UserRoleTabeliao), app.updateAppConfigHandler)

	w := doRequest(r, http.MethodPut, "/config/app", `{"extractionAutoSync": true}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403", w.Code)
	}
	if app.Config.Settings().ExtractionAutoSync {
		t.Fatalf("settings changed by a forbidden request")
	}
}

func TestRequestValidationBeforeStorage(t *testing.T) {
	app := newTestApp()
	r := gin.New()
	r.Use(asUser(models.UserRoleEscrevente))
	r.POST("/atos/:id/extract", app.extractAtoHandler)
	r.POST("/minutas/check", app.checkMinuteHandler)
	r.POST("/search", app.searchHandler)
	r.POST("/conversations/:id/messages", app.sendMessageHandler)
	r.GET("/documentos/vencendo", app.expiringDocumentsHandler)

	tests := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/atos/3/extract?sync=sempre", ""},
		{http.MethodPost, "/atos/x/extract", ""},
		{http.MethodPost, "/minutas/check", `{"texto": "  "}`},
		{http.MethodPost, "/minutas/check", `{"texto": ""}`},
		{http.MethodPost, "/search", `{"query": " "}`},
		{http.MethodPost, "/conversations/abc/messages", `{"content": ""}`},
		{http.MethodGet, "/documentos/vencendo?dias=0", ""},
		{http.MethodGet, "/documentos/vencendo?dias=400", ""},
	}
	for _, tt := range tests {
		w := doRequest(r, tt.method, tt.path, tt.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: got %d, want 400 (%s)", tt.method, tt.path, w.Code, w.Body.String())
		}
	}
}

func TestUploadKeys(t *testing.T) {
	if got := thumbnailObjectKey("clientes/7/abc.png"); got != "clientes/7/thumbnails/abc.jpg" {
		t.Fatalf("thumbnailObjectKey = %q", got)
	}
	if got := clientObjectPrefix(7); got != "clientes/7/" {
		t.Fatalf("clientObjectPrefix = %q", got)
	}
	if got := sanitizeSegment("PDF/../x"); got != "pdfx" {
		t.Fatalf("sanitizeSegment = %q", got)
	}
	if got := extensionFromMimeType("application/pdf"); got != ".pdf" {
		t.Fatalf("extensionFromMimeType = %q", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("splitAndTrim = %#v", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatalf("expected nil for blank input")
	}
}

// authorRecorder is a workflow.Registry that keeps the author of each commit.
type authorRecorder struct {
	workflow.DBRegistry
	authors []string
}

func (r *authorRecorder) CommitFields(_ context.Context, clientId int, fields []reconcile.Field, author string) (*models.CommitFieldsResult, error) {
	r.authors = append(r.authors, author)
	return &models.CommitFieldsResult{ClientId: clientId, Changed: fields}, nil
}

func TestCommitFieldsKeepsSessionIdentity(t *testing.T) {
	rec := &authorRecorder{}
	app := newTestApp()
	app.Sync = workflow.NewClientSync(rec, app.Flows, workflow.NewRequestGuard())
	r := gin.New()
	r.Use(asUser(models.UserRoleEscrevente))
	r.POST("/clients/:id/fields/commit", app.commitFieldsHandler)

	fields := `"fields":[{"label":"RG","value":"12.345.678-9"}]`
	tests := []struct {
		name   string
		body   string
		status int
		author string
	}{
		{"session user", `{` + fields + `}`, http.StatusOK, "Maria Escrevente"},
		{"flow attribution", `{` + fields + `,"author":"Sistema (Verificação de Minuta)"}`, http.StatusOK, "Sistema (Verificação de Minuta) / Maria Escrevente"},
		{"another user", `{` + fields + `,"author":"Dr. Tabeliao Titular"}`, http.StatusBadRequest, ""},
		{"empty flow", `{` + fields + `,"author":"Sistema ()"}`, http.StatusBadRequest, ""},
		{"too long", `{` + fields + `,"author":"Sistema (` + strings.Repeat("x", 150) + `)"}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		rec.authors = nil
		w := doRequest(r, http.MethodPost, "/clients/7/fields/commit", tt.body)
		if w.Code != tt.status {
			t.Fatalf("%s: got %d, want %d (%s)", tt.name, w.Code, tt.status, w.Body.String())
		}
		if tt.author == "" {
			if len(rec.authors) != 0 {
				t.Fatalf("%s: rejected request reached the registry as %q", tt.name, rec.authors)
			}
			continue
		}
		if len(rec.authors) != 1 || rec.authors[0] != tt.author {
			t.Fatalf("%s: committed as %q, want %q", tt.name, rec.authors, tt.author)
		}
	}
}

func TestAiUsageRequestValidation(t *testing.T) {
	app := newTestApp()
	r := gin.New()
	r.Use(asUser(models.UserRoleTabeliao))
	r.GET("/ai/usage/logs", app.listAiUsageHandler)
	r.GET("/ai/usage/stats", app.aiUsageStatsHandler)
	r.DELETE("/ai/usage/logs", app.cleanupAiUsageHandler)

	for _, path := range []string{
		"/ai/usage/logs?status=ok",
		"/ai/usage/logs?from=16/10/2026",
		"/ai/usage/stats?from=2026-10-16&to=2026-10-01",
	} {
		if w := doRequest(r, http.MethodGet, path, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("GET %s: got %d, want 400 (%s)", path, w.Code, w.Body.String())
		}
	}
	for _, path := range []string{"/ai/usage/logs?dias=x", "/ai/usage/logs?dias=0"} {
		if w := doRequest(r, http.MethodDelete, path, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("DELETE %s: got %d, want 400", path, w.Code)
		}
	}
}

func TestAiUsageScope(t *testing.T) {
	app := newTestApp()
	r := gin.New()
	// asUser sets no user id, so a non-tabeliao cannot be scoped
	r.Use(asUser(models.UserRoleEscrevente))
	r.GET("/ai/usage/logs", app.listAiUsageHandler)
	r.GET("/ai/usage/costs", middlewares.RequireRole(models.UserRoleTabeliao), app.aiUsageCostsHandler)
	r.GET("/ai/usage/export", middlewares.RequireRole(models.UserRoleTabeliao), app.exportAiUsageHandler)
	r.DELETE("/ai/usage/logs", middlewares.RequireRole(models.UserRoleTabeliao), app.cleanupAiUsageHandler)

	if w := doRequest(r, http.MethodGet, "/ai/usage/logs", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("unscoped list: got %d, want 401", w.Code)
	}
	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/ai/usage/costs"},
		{http.MethodGet, "/ai/usage/export"},
		{http.MethodDelete, "/ai/usage/logs"},
	} {
		if w := doRequest(r, tt.method, tt.path, ""); w.Code != http.StatusForbidden {
			t.Fatalf("%s %s: got %d, want 403", tt.method, tt.path, w.Code)
		}
	}
}

func TestClientDetailValidation(t *testing.T) {
	app := newTestApp()
	r := gin.New()
	r.Use(asUser(models.UserRoleEscrevente))
	r.GET("/clients/cpf-cnpj/:cpfCnpj", app.clientByCpfCnpjHandler)
	r.POST("/clients/:id/eventos", app.addClientEventHandler)
	r.POST("/clients/:id/contatos", app.addClientContatoHandler)
	r.POST("/clients/:id/enderecos", app.addClientEnderecoHandler)
	r.PUT("/contatos/:id", app.updateClientContatoHandler)
	r.GET("/livros/numero/:numero/ano/:ano", app.livroByNumeroAnoHandler)
	r.POST("/livros/:id/reprocess-pdf", app.reprocessLivroPdfHandler)

	tests := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/clients/cpf-cnpj/123", ""},
		{http.MethodPost, "/clients/7/eventos", `{"tipo": "ligação", "descricao": "  "}`},
		{http.MethodPost, "/clients/7/eventos", `{"descricao": "Retornou a ligação"}`},
		{http.MethodPost, "/clients/x/eventos", `{"tipo": "ligação", "descricao": "ok"}`},
		{http.MethodPost, "/clients/7/contatos", `{"tipo": "email"}`},
		{http.MethodPost, "/clients/7/enderecos", `{"logradouro": "Rua A", "estado": "São Paulo", "cidade": "SP"}`},
		{http.MethodPut, "/contatos/0", `{"tipo": "email", "valor": "a@b.com"}`},
		{http.MethodGet, "/livros/numero/x/ano/2024", ""},
		{http.MethodGet, "/livros/numero/3/ano/0", ""},
		{http.MethodPost, "/livros/abc/reprocess-pdf", ""},
	}
	for _, tt := range tests {
		w := doRequest(r, tt.method, tt.path, tt.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: got %d, want 400 (%s)", tt.method, tt.path, w.Code, w.Body.String())
		}
	}
}
