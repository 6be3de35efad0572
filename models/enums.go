package models

import (
	"encoding/json"
	"errors"
)

type ClientTipo string

const (
	ClientTipoPF ClientTipo = "PF"
	ClientTipoPJ ClientTipo = "PJ"
)

func (t ClientTipo) IsValid() bool {
	return t == ClientTipoPF || t == ClientTipoPJ
}

func (t *ClientTipo) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("tipo must be string")
	}
	v := ClientTipo(s)
	if !v.IsValid() {
		return errors.New("invalid client tipo")
	}
	*t = v
	return nil
}

type ContatoTipo string

const (
	ContatoTipoEmail    ContatoTipo = "email"
	ContatoTipoPhone    ContatoTipo = "phone"
	ContatoTipoWhatsapp ContatoTipo = "whatsapp"
)

func (t ContatoTipo) IsValid() bool {
	switch t {
	case ContatoTipoEmail, ContatoTipoPhone, ContatoTipoWhatsapp:
		return true
	}
	return false
}

func (t *ContatoTipo) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("contato tipo must be string")
	}
	v := ContatoTipo(s)
	if !v.IsValid() {
		return errors.New("invalid contato tipo")
	}
	*t = v
	return nil
}

type ObservacaoOrigem string

const (
	ObservacaoOrigemManual ObservacaoOrigem = "manual"
	ObservacaoOrigemAI     ObservacaoOrigem = "ai"
)

type LivroStatus string

const (
	LivroStatusAberto  LivroStatus = "aberto"
	LivroStatusFechado LivroStatus = "fechado"
)

func (s LivroStatus) IsValid() bool {
	return s == LivroStatusAberto || s == LivroStatusFechado
}

// LivroProcessing tracks the scanned PDF of a livro; empty until a PDF is sent.
type LivroProcessing string

const (
	LivroProcessingProcessando LivroProcessing = "processando"
	LivroProcessingConcluido   LivroProcessing = "concluido"
	LivroProcessingErro        LivroProcessing = "erro"
)

// PresetKind names one of the configuration lists.
type PresetKind string

const (
	PresetKindTipoLivro     PresetKind = "tipos-livro"
	PresetKindTipoAto       PresetKind = "tipos-ato"
	PresetKindNomeDocumento PresetKind = "nomes-documento"
	PresetKindTipoContato   PresetKind = "tipos-contato"
)

func (k PresetKind) IsValid() bool {
	switch k {
	case PresetKindTipoLivro, PresetKindTipoAto, PresetKindNomeDocumento, PresetKindTipoContato:
		return true
	}
	return false
}

var AllPresetKinds = []PresetKind{PresetKindTipoLivro, PresetKindTipoAto, PresetKindNomeDocumento, PresetKindTipoContato}

type ValidityStatus string

const (
	ValidityValido       ValidityStatus = "Válido"
	ValidityVenceEmBreve ValidityStatus = "Vence em breve"
	ValidityExpirado     ValidityStatus = "Expirado"
	ValidityDataInvalida ValidityStatus = "Data inválida"
)

type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleModel MessageRole = "model"
)

// registry event actions written to the outbox
const (
	EventActionClientCreated          = "client.created"
	EventActionClientUpdated          = "client.updated"
	EventActionClientDeleted          = "client.deleted"
	EventActionClientFieldsCommitted  = "client.fields.committed"
	EventActionClientDocumentExpiring = "client.document.expiring"
	EventActionAtoExtracted           = "ato.extracted"
)
