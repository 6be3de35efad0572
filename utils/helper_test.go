package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"1234.50", "1234.50"},
		{"1.234,50", "1234.50"},
		{"1,234.50", "1234.50"},
		{"R$ 1.234,50", "1234.50"},
		{"R$ -20,00", "-20.00"},
		{"1.234.567", "1234567.00"},
		{" 87,3 ", "87.30"},
		{12, "12.00"},
		{2.5, "2.50"},
	}
	for _, tt := range tests {
		got, err := ParseMoney(tt.in)
		if err != nil {
			t.Fatalf("ParseMoney(%v): %v", tt.in, err)
		}
		if got.StringFixed(2) != tt.want {
			t.Fatalf("ParseMoney(%v) = %s, want %s", tt.in, got.StringFixed(2), tt.want)
		}
	}
	for _, bad := range []interface{}{"", "R$", "abc", true} {
		if _, err := ParseMoney(bad); err == nil {
			t.Fatalf("ParseMoney(%v) accepted", bad)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	tests := map[string]string{
		"0":         "R$ 0,00",
		"87.3":      "R$ 87,30",
		"1234.5":    "R$ 1.234,50",
		"1234567.5": "R$ 1.234.567,50",
		"-20":       "-R$ 20,00",
	}
	for in, want := range tests {
		if got := FormatMoney(decimal.RequireFromString(in)); got != want {
			t.Fatalf("FormatMoney(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestCPFCNPJ(t *testing.T) {
	if !IsValidCPF("529.982.247-25") || !IsValidCPF("52998224725") {
		t.Fatalf("valid CPF rejected")
	}
	for _, bad := range []string{"529.982.247-24", "111.111.111-11", "123", ""} {
		if IsValidCPF(bad) {
			t.Fatalf("IsValidCPF(%q) accepted", bad)
		}
	}
	if !IsValidCNPJ("11.222.333/0001-81") {
		t.Fatalf("valid CNPJ rejected")
	}
	if IsValidCNPJ("11.222.333/0001-80") || IsValidCNPJ("00000000000000") {
		t.Fatalf("invalid CNPJ accepted")
	}
	if got := FormatCPFCNPJ("52998224725"); got != "529.982.247-25" {
		t.Fatalf("FormatCPFCNPJ(cpf) = %q", got)
	}
	if got := FormatCPFCNPJ("11222333000181"); got != "11.222.333/0001-81" {
		t.Fatalf("FormatCPFCNPJ(cnpj) = %q", got)
	}
	if got := FormatCPFCNPJ(" 12a "); got != "12a" {
		t.Fatalf("FormatCPFCNPJ(other) = %q", got)
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	got, err := NormalizePhoneNumber("(11) 98765-4321")
	if err != nil {
		t.Fatalf("NormalizePhoneNumber: %v", err)
	}
	if got != "+5511987654321" {
		t.Fatalf("got %q", got)
	}
	if _, err := NormalizePhoneNumber("12"); !errors.Is(err, errInvalidPhone) {
		t.Fatalf("short number: got %v", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n[1,2]\n```":         "[1,2]",
		`  {"a":1}  `:             `{"a":1}`,
	}
	for in, want := range tests {
		if got := StripCodeFence(in); got != want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestObjectURLRoundTrip(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "")
	t.Setenv("GCS_BUCKET", "cartorio-docs")

	key := "clientes/7/abc.pdf"
	url := BuildObjectAccessURL(key)
	if url != "https://storage.googleapis.com/cartorio-docs/clientes/7/abc.pdf" {
		t.Fatalf("BuildObjectAccessURL = %q", url)
	}
	if got := ExtractObjectKeyFromURL(url); got != key {
		t.Fatalf("ExtractObjectKeyFromURL = %q", got)
	}
	if got := ExtractObjectKeyFromURL("gs://cartorio-docs/" + key); got != key {
		t.Fatalf("gs url: %q", got)
	}
	if got := ExtractObjectKeyFromURL("https://example.com/../x"); got != "" {
		t.Fatalf("traversal accepted: %q", got)
	}

	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://api.example.com/uploads/object?key={objectKey}")
	url = BuildObjectAccessURL(key)
	if got := ExtractObjectKeyFromURL(url); got != key {
		t.Fatalf("proxied url %q gave %q", url, got)
	}
}

func TestValidationErrorWraps(t *testing.T) {
	err := fmt.Errorf("create client: %w", NewValidationError("cpfCnpj", "invalid"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation in chain")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "cpfCnpj" {
		t.Fatalf("errors.As failed: %v", err)
	}
}

func TestIsSystemAuthor(t *testing.T) {
	cases := map[string]bool{
		"Sistema":                            true,
		"Sistema (Verificação de Minuta)":    true,
		"Sistema ()":                         false,
		"Sistema ( )":                        false,
		"Sistemas":                           false,
		"Maria Escrevente":                   false,
		"":                                   false,
	}
	for in, want := range cases {
		if got := IsSystemAuthor(in); got != want {
			t.Fatalf("IsSystemAuthor(%q) = %v, want %v", in, got, want)
		}
	}
	if got := OnBehalfOf("Sistema", "Ana"); got != "Sistema / Ana" {
		t.Fatalf("OnBehalfOf = %q", got)
	}
}
