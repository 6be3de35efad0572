package models_test

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
	"github.com/cartorio-digital/cartorio_backend/utils"
)

func TestCommitClientFieldsIsAtomicAndAudited(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	startRegistryStack(t)
	ctx := t.Context()

	client, err := models.CreateClient(ctx, &models.NewClient{
		Nome:    "Ana Souza",
		CpfCnpj: "529.982.247-25",
		Tipo:    models.ClientTipoPF,
		DadosAdicionais: []reconcile.Field{
			{Label: "Profissão", Value: "Advogada"},
		},
	}, "Maria Escrevente")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	before, err := models.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	eventsBefore := len(before.Eventos)

	res, err := models.CommitClientFields(ctx, client.ID, []reconcile.Field{
		{Label: "Profissão", Value: "Juíza"},
		{Label: "Estado civil", Value: "casada"},
	}, utils.SystemAuthor("Extração de Ato"))
	if err != nil {
		t.Fatalf("CommitClientFields: %v", err)
	}
	if len(res.Changed) != 2 {
		t.Fatalf("expected 2 changed fields, got %+v", res.Changed)
	}

	after, err := models.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	got := after.Fields()
	if len(got) != 2 || got[0].Label != "Profissão" || got[0].Value != "Juíza" || got[1].Label != "Estado civil" {
		t.Fatalf("unexpected dadosAdicionais %+v", got)
	}
	if len(after.Eventos) != eventsBefore+1 {
		t.Fatalf("expected exactly one new event, got %d -> %d", eventsBefore, len(after.Eventos))
	}
	if after.Eventos[0].Autor != "Sistema (Extração de Ato)" {
		t.Fatalf("event author = %q", after.Eventos[0].Autor)
	}

	counts, err := models.OutboxCounts(ctx)
	if err != nil {
		t.Fatalf("OutboxCounts: %v", err)
	}
	if counts[models.OutboxPublishStatusPending] == 0 {
		t.Fatalf("expected a pending registry event, got %v", counts)
	}

	// rejected batch leaves fields and events untouched
	if _, err := models.CommitClientFields(ctx, client.ID, []reconcile.Field{
		{Label: "Naturalidade", Value: "Recife"},
		{Label: " ", Value: "x"},
	}, "Maria Escrevente"); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	again, err := models.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if len(again.Fields()) != 2 || len(again.Eventos) != len(after.Eventos) {
		t.Fatalf("rejected commit changed the client: %+v", again.Fields())
	}

	if _, err := models.CommitClientFields(ctx, 999999, []reconcile.Field{{Label: "RG", Value: "1"}}, "x"); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("unknown client: got %v", err)
	}

	// audit rows cannot be rewritten
	err = config.GetDB().WithContext(ctx).Model(&models.ClientEvent{}).
		Where("client_id = ?", client.ID).Update("autor", "outro").Error
	if !errors.Is(err, config.ErrAppendOnly) {
		t.Fatalf("expected ErrAppendOnly, got %v", err)
	}
}

func TestUpdateClientDadosAdicionaisIsAuditedOnce(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	startRegistryStack(t)
	ctx := t.Context()

	client, err := models.CreateClient(ctx, &models.NewClient{
		Nome:    "Bruno  Lima",
		CpfCnpj: "11.222.333/0001-81",
		Tipo:    models.ClientTipoPJ,
		DadosAdicionais: []reconcile.Field{
			{Label: "Ramo", Value: "Comércio"},
		},
	}, "Maria Escrevente")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	before, err := models.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}

	updated, err := models.UpdateClient(ctx, client.ID, &models.ClientPatch{
		DadosAdicionais: []reconcile.Field{
			{Label: "Ramo", Value: "Serviços"},
			{Label: "Inscrição estadual", Value: "123"},
		},
	}, "João Oficial")
	if err != nil {
		t.Fatalf("UpdateClient: %v", err)
	}
	if len(updated.Eventos) != len(before.Eventos)+1 {
		t.Fatalf("expected exactly one new event, got %d -> %d", len(before.Eventos), len(updated.Eventos))
	}
	ev := updated.Eventos[0]
	if ev.Autor != "João Oficial" || !strings.Contains(ev.Descricao, "dadosAdicionais") {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !strings.Contains(ev.Before, "Comércio") || !strings.Contains(ev.After, "Serviços") {
		t.Fatalf("event does not carry before/after: %q / %q", ev.Before, ev.After)
	}
	got := updated.Fields()
	if len(got) != 2 || got[0].Value != "Serviços" || got[1].Label != "Inscrição estadual" {
		t.Fatalf("unexpected dadosAdicionais %+v", got)
	}

	// the event insert fails after the field rows were rewritten; nothing may survive
	nome := "Bruno Lima Ltda"
	if _, err := models.UpdateClient(ctx, client.ID, &models.ClientPatch{
		Nome:            &nome,
		DadosAdicionais: []reconcile.Field{{Label: "Ramo", Value: "Indústria"}},
	}, " "); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	again, err := models.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if again.Nome != "Bruno  Lima" || len(again.Fields()) != 2 || again.Fields()[0].Value != "Serviços" {
		t.Fatalf("failed update leaked: nome=%q fields=%+v", again.Nome, again.Fields())
	}
	if len(again.Eventos) != len(updated.Eventos) {
		t.Fatalf("failed update wrote an event")
	}

	// folded names reach clients stored with doubled spaces
	candidates, err := models.FindClientCandidates(ctx, []string{"bruno lima"})
	if err != nil {
		t.Fatalf("FindClientCandidates: %v", err)
	}
	found := false
	for _, c := range candidates {
		found = found || c.ID == client.ID
	}
	if !found {
		t.Fatalf("client with internal double space not returned: %+v", candidates)
	}
}
