package models

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
)

// ExpiryWarningDays is the inclusive window for "Vence em breve".
const ExpiryWarningDays = 30

type DocumentValidity struct {
	Status ValidityStatus `json:"status"`
	// whole days from today to the expiry date, nil without a parseable date
	DaysLeft *int `json:"daysLeft,omitempty"`
}

// ClassifyDocumentValidity compares dates only; the time of day of today is ignored.
func ClassifyDocumentValidity(raw *string, today time.Time) DocumentValidity {
	return classifyWithWindow(raw, today, ExpiryWarningDays)
}

func classifyWithWindow(raw *string, today time.Time, window int) DocumentValidity {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return DocumentValidity{Status: ValidityValido}
	}
	expiry, ok := reconcile.ParseDate(*raw)
	if !ok {
		return DocumentValidity{Status: ValidityDataInvalida}
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	days := int(expiry.Sub(day).Hours() / 24)

	switch {
	case days < 0:
		return DocumentValidity{Status: ValidityExpirado, DaysLeft: &days}
	case days <= window:
		return DocumentValidity{Status: ValidityVenceEmBreve, DaysLeft: &days}
	}
	return DocumentValidity{Status: ValidityValido, DaysLeft: &days}
}

type ExpiringDocument struct {
	DocumentoId  int            `json:"documentoId"`
	Nome         string         `json:"nome"`
	Url          string         `json:"url"`
	DataValidade string         `json:"dataValidade"`
	ClientId     int            `json:"clientId"`
	ClientNome   string         `json:"clientNome"`
	Status       ValidityStatus `json:"status"`
	DaysLeft     int            `json:"daysLeft"`
}

// ListExpiringDocuments returns documents expiring within days, plus expired ones
// when includeExpired is set, soonest first. Dates are stored as typed by the
// user, so filtering happens after parsing.
func ListExpiringDocuments(ctx context.Context, days int, includeExpired bool, today time.Time) ([]*ExpiringDocument, error) {
	if days <= 0 {
		days = ExpiryWarningDays
	}
	db := config.GetDB()
	var rows []struct {
		ClientDocumento
		ClientNome string
	}
	if err := db.WithContext(ctx).
		Table("client_documentos").
		Select("client_documentos.*, clients.nome AS client_nome").
		Joins("JOIN clients ON clients.id = client_documentos.client_id AND clients.deleted_at IS NULL").
		Where("client_documentos.data_validade IS NOT NULL AND client_documentos.data_validade <> ''").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	var results []*ExpiringDocument
	for _, r := range rows {
		v := classifyWithWindow(r.DataValidade, today, days)
		if v.DaysLeft == nil {
			continue
		}
		if v.Status == ValidityVenceEmBreve || (includeExpired && v.Status == ValidityExpirado) {
			results = append(results, &ExpiringDocument{
				DocumentoId:  r.ID,
				Nome:         r.Nome,
				Url:          r.Url,
				DataValidade: *r.DataValidade,
				ClientId:     r.ClientId,
				ClientNome:   r.ClientNome,
				Status:       v.Status,
				DaysLeft:     *v.DaysLeft,
			})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].DaysLeft < results[j].DaysLeft })
	return results, nil
}

// ClientDocumentStatuses classifies every document of one client.
func ClientDocumentStatuses(ctx context.Context, clientId int, today time.Time) ([]*ClientDocumento, error) {
	client, err := GetClient(ctx, clientId)
	if err != nil {
		return nil, err
	}
	refreshDocumentStatus(client, today)
	return client.Documentos, nil
}

// RecordExpiringDocuments writes one client.document.expiring outbox row per
// document in a single transaction.
func RecordExpiringDocuments(ctx context.Context, docs []*ExpiringDocument, author string) error {
	if len(docs) == 0 {
		return nil
	}
	db := config.GetDB()
	tx := db.Begin()
	for _, d := range docs {
		if err := recordRegistryEvent(ctx, tx, "clients", d.ClientId, EventActionClientDocumentExpiring, author, d); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit().Error
}
