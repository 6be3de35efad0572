package main

import (
	"net/http"

	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/gin-gonic/gin"
)

func (a *App) clientStatsHandler(c *gin.Context) {
	stats, err := models.GetClientStats(c.Request.Context(), a.today())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (a *App) clientByCpfCnpjHandler(c *gin.Context) {
	client, err := models.GetClientByCpfCnpj(c.Request.Context(), c.Param("cpfCnpj"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": client})
}

func (a *App) listClientEventsHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	events, err := models.ListClientEvents(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (a *App) addClientEventHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var input models.NewClientEvento
	if !bindJSON(c, &input) {
		return
	}
	event, err := models.AddClientEvent(c.Request.Context(), id, &input, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": event})
}

func (a *App) listClientContatosHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	contatos, err := models.ListClientContatos(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": contatos})
}

func (a *App) addClientContatoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var input models.NewClientContato
	if !bindJSON(c, &input) {
		return
	}
	contato, err := models.AddClientContato(c.Request.Context(), id, &input, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": contato})
}

func (a *App) updateClientContatoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var input models.NewClientContato
	if !bindJSON(c, &input) {
		return
	}
	contato, err := models.UpdateClientContato(c.Request.Context(), id, &input, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": contato})
}

func (a *App) deleteClientContatoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	if err := models.DeleteClientContato(c.Request.Context(), id, author); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *App) listClientEnderecosHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	enderecos, err := models.ListClientEnderecos(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": enderecos})
}

func (a *App) addClientEnderecoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var input models.NewClientEndereco
	if !bindJSON(c, &input) {
		return
	}
	endereco, err := models.AddClientEndereco(c.Request.Context(), id, &input, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": endereco})
}

func (a *App) updateClientEnderecoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var input models.NewClientEndereco
	if !bindJSON(c, &input) {
		return
	}
	endereco, err := models.UpdateClientEndereco(c.Request.Context(), id, &input, author)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": endereco})
}

func (a *App) deleteClientEnderecoHandler(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	if err := models.DeleteClientEndereco(c.Request.Context(), id, author); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
