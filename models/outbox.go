package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for RegistryEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// RegistryEventRecord is the transactional outbox row. It is written in the
// same DB transaction as the change it describes; the dispatcher publishes
// it after commit.
type RegistryEventRecord struct {
	ID               int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	ReferenceType    string     `gorm:"size:50;not null;index:idx_outbox_ref,priority:1" json:"referenceType"`
	ReferenceId      int        `gorm:"not null;index:idx_outbox_ref,priority:2" json:"referenceId"`
	Action           string     `gorm:"size:100;not null" json:"action"`
	Author           string     `gorm:"size:150" json:"author"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publishStatus"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"publishedAt"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsubMessageId"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publishAttempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"nextAttemptAt"`
	LockedAt         *time.Time `gorm:"index" json:"lockedAt"`
	LockedBy         *string    `gorm:"size:100" json:"lockedBy"`
	LastPublishError *string    `gorm:"type:text" json:"lastPublishError"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlationId"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (RegistryEventRecord) TableName() string { return "registry_events_outbox" }

func (r RegistryEventRecord) ToRegistryEvent() config.RegistryEvent {
	return config.RegistryEvent{
		ID:            r.ID,
		OccurredAt:    r.CreatedAt,
		ReferenceId:   r.ReferenceId,
		ReferenceType: r.ReferenceType,
		Action:        r.Action,
		Author:        r.Author,
		Payload:       json.RawMessage(r.Payload),
		CorrelationId: r.CorrelationId,
	}
}

// recordRegistryEvent writes the outbox row inside tx but does NOT publish.
func recordRegistryEvent(ctx context.Context, tx *gorm.DB, refType string, refId int, action string, author string, payload interface{}) error {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = b
	}
	record := RegistryEventRecord{
		ReferenceType: refType,
		ReferenceId:   refId,
		Action:        action,
		Author:        author,
		Payload:       body,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.WithContext(ctx).Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// RequeueDeadRegistryEvents moves DEAD rows back to PENDING with a fresh attempt budget.
// Empty ids requeues every DEAD row.
func RequeueDeadRegistryEvents(ctx context.Context, ids []int) (int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&RegistryEventRecord{}).
		Where("publish_status = ?", OutboxPublishStatusDead)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]interface{}{
		"publish_status":     OutboxPublishStatusPending,
		"publish_attempts":   0,
		"next_attempt_at":    nil,
		"locked_at":          nil,
		"locked_by":          nil,
		"last_publish_error": nil,
	})
	return res.RowsAffected, res.Error
}

// OutboxCounts groups outbox rows by publish status, for the ops CLI.
func OutboxCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		PublishStatus string
		Total         int64
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&RegistryEventRecord{}).
		Select("publish_status, COUNT(*) AS total").
		Group("publish_status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.PublishStatus] = r.Total
	}
	return out, nil
}
