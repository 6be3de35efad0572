package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (a *App) listLivrosHandler(c *gin.Context) {
	var status *models.LivroStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		s := models.LivroStatus(strings.ToLower(raw))
		if !s.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		status = &s
	}
	livros, err := models.ListLivros(c.Request.Context(), c.Query("tipo"), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": livros})
}

func (a *App) createLivroHandler(c *gin.Context) {
	var input models.NewLivro
	if !bindJSON(c, &input) {
		return
	}
	livro, err := models.CreateLivro(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": livro})
}

func (a *App) getLivroHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	livro, err := models.GetLivro(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": livro})
}

func (a *App) updateLivroHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.NewLivro
	if !bindJSON(c, &input) {
		return
	}
	livro, err := models.UpdateLivro(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": livro})
}

func (a *App) deleteLivroHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	livro, err := models.DeleteLivro(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": livro})
}

// the workbook is built in memory so a failure can still answer with JSON
func (a *App) exportLivroHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var buf bytes.Buffer
	filename, err := models.ExportLivroXlsx(c.Request.Context(), id, &buf)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// reads a scanned livro and returns draft acts; the scan is kept for reprocessing
func (a *App) processLivroPdfHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := models.GetLivro(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > aiflows.MaxPdfBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, aiflows.MaxPdfBytes+1))
	if err != nil {
		respondError(c, err)
		return
	}
	drafts, err := a.Pdf.Upload(ctx, id, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"livroId": id, "atos": drafts}})
}

func (a *App) reprocessLivroPdfHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := a.Pdf.Reprocess(c.Request.Context(), id, queryFlag(c, "force"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": res})
}

func (a *App) livroProcessingStatusHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	status, err := models.GetLivroProcessingStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (a *App) livroStatsHandler(c *gin.Context) {
	stats, err := models.GetLivroStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (a *App) livroByNumeroAnoHandler(c *gin.Context) {
	numero, ok := idParam(c, "numero")
	if !ok {
		return
	}
	ano, ok := idParam(c, "ano")
	if !ok {
		return
	}
	livro, err := models.GetLivroByNumeroAno(c.Request.Context(), numero, ano, strings.TrimSpace(c.Query("tipo")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": livro})
}

func (a *App) listAtosHandler(c *gin.Context) {
	livroId, ok := idParam(c, "id")
	if !ok {
		return
	}
	atos, err := models.ListAtos(c.Request.Context(), livroId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": atos})
}

func (a *App) createAtoHandler(c *gin.Context) {
	livroId, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.NewAto
	if !bindJSON(c, &input) {
		return
	}
	ato, err := models.CreateAto(c.Request.Context(), livroId, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": ato})
}

func (a *App) getAtoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ato, err := models.GetAto(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ato})
}

func (a *App) updateAtoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.NewAto
	if !bindJSON(c, &input) {
		return
	}
	ato, err := models.UpdateAto(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ato})
}

func (a *App) deleteAtoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ato, err := models.DeleteAto(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ato})
}

func (a *App) addAverbacaoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var input models.NewAverbacao
	if !bindJSON(c, &input) {
		return
	}
	averbacao, err := models.AddAverbacao(c.Request.Context(), id, &input, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": averbacao})
}
