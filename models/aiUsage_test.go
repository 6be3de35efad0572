package models

import (
	"testing"
	"time"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/shopspring/decimal"
)

func TestSanitizePrompt(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Outorgante Ana, CPF 529.982.247-25, RG 12.345.678-9", "Outorgante Ana, CPF [CPF], RG [RG]"},
		{"Empresa 11.222.333/0001-81 com sede no CEP 01310-100", "Empresa [CNPJ] com sede no CEP [CEP]"},
		{"contato ana.souza+cartorio@exemplo.com.br", "contato [EMAIL]"},
		{"cartão 4111 1111 1111 1111 pago", "cartão [CARTAO] pago"},
		{"Livro 12, folha 034, ato 2024", "Livro 12, folha 034, ato 2024"},
	}
	for _, tc := range cases {
		if got := SanitizePrompt(tc.in); got != tc.want {
			t.Fatalf("SanitizePrompt(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewAiUsageLogCost(t *testing.T) {
	pricing := AiPricing{
		InputPerMillion:  decimal.RequireFromString("0.30"),
		OutputPerMillion: decimal.RequireFromString("2.50"),
	}
	row := newAiUsageLog(aiflows.Usage{
		Flow:         aiflows.FlowExtractActDetails,
		Status:       aiflows.UsageSuccess,
		UserId:       4,
		Prompt:       "CPF 529.982.247-25",
		InputTokens:  10_000,
		OutputTokens: 2_000,
		Latency:      1500 * time.Millisecond,
	}, pricing)
	// 10k * 0.30/1M + 2k * 2.50/1M
	if !row.CustoEstimado.Equal(decimal.RequireFromString("0.008")) {
		t.Fatalf("custo = %s", row.CustoEstimado)
	}
	if row.LatencyMs != 1500 || row.UserId == nil || *row.UserId != 4 || row.Prompt != "CPF [CPF]" {
		t.Fatalf("unexpected row %+v", row)
	}
	if anon := newAiUsageLog(aiflows.Usage{Flow: "x"}, pricing); anon.UserId != nil || !anon.CustoEstimado.IsZero() {
		t.Fatalf("anonymous call: %+v", anon)
	}
}
