package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxOutboxBackoff = 10 * time.Minute

// OutboxDispatcher publishes registry_events_outbox rows after their
// transaction committed. Rows are claimed with SKIP LOCKED so several API
// instances can dispatch side by side.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string
	Publish      func(ctx context.Context, msg config.RegistryEvent) (string, error)

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		Publish:        config.PublishRegistryEvent,
		BatchSize:      50,
		PollInterval:   time.Second,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; otherwise it waits PollInterval.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if d.DispatchOnce(ctx) >= d.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and publishes it. It returns how many rows were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	if d.DB == nil {
		return 0
	}
	batch, err := d.claim(ctx, time.Now().UTC())
	if err != nil {
		config.LogError(d.Logger, "OutboxDispatcher", "DispatchOnce", "claim batch", nil, err)
		return 0
	}

	sent := 0
	for _, rec := range batch {
		msgID, err := d.Publish(ctx, rec.ToRegistryEvent())
		if err != nil {
			d.release(ctx, rec, err)
			continue
		}
		d.update(d.DB.WithContext(ctx), rec.ID, models.OutboxPublishStatusSent, map[string]interface{}{
			"published_at":       time.Now().UTC(),
			"pub_sub_message_id": msgID,
		})
		sent++
	}
	return sent
}

// claim locks due rows and marks them PROCESSING. Rows whose dispatcher died
// mid-publish become due again after LockTimeout. Rows past MaxAttempts go
// straight to DEAD and are not returned.
func (d *OutboxDispatcher) claim(ctx context.Context, now time.Time) ([]models.RegistryEventRecord, error) {
	var batch []models.RegistryEventRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.RegistryEventRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (publish_status = ? AND locked_at <= ?)",
				[]string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now,
				models.OutboxPublishStatusProcessing, now.Add(-d.LockTimeout)).
			Order("id").
			Limit(d.BatchSize).
			Find(&due).Error
		if err != nil {
			return err
		}

		for _, rec := range due {
			if d.exhausted(rec.PublishAttempts) {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				if err := d.update(tx, rec.ID, models.OutboxPublishStatusDead, map[string]interface{}{"last_publish_error": msg}); err != nil {
					return err
				}
				continue
			}
			err := tx.Model(&models.RegistryEventRecord{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          now,
				"locked_by":          d.DispatcherID,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error
			if err != nil {
				return err
			}
			rec.PublishAttempts++
			batch = append(batch, rec)
		}
		return nil
	})
	return batch, err
}

func (d *OutboxDispatcher) exhausted(attempts int) bool {
	return d.MaxAttempts > 0 && attempts >= d.MaxAttempts
}

// release records a failed publish: FAILED with a backoff, or DEAD once the
// attempts are used up.
func (d *OutboxDispatcher) release(ctx context.Context, rec models.RegistryEventRecord, pubErr error) {
	fields := logrus.Fields{
		"field":     "OutboxDispatcher",
		"record_id": rec.ID,
		"action":    rec.Action,
		"attempt":   rec.PublishAttempts,
	}
	db := d.DB.WithContext(ctx)
	msg := pubErr.Error()

	if d.exhausted(rec.PublishAttempts) {
		d.update(db, rec.ID, models.OutboxPublishStatusDead, map[string]interface{}{"last_publish_error": msg})
		d.Logger.WithFields(fields).Error("registry event moved to DEAD: " + msg)
		return
	}
	next := time.Now().UTC().Add(OutboxBackoff(d.InitialBackoff, rec.PublishAttempts))
	d.update(db, rec.ID, models.OutboxPublishStatusFailed, map[string]interface{}{
		"last_publish_error": msg,
		"next_attempt_at":    next,
	})
	fields["next_attempt_at"] = next.Format(time.RFC3339)
	d.Logger.WithFields(fields).Warn("registry event publish failed: " + msg)
}

// update sets status, clears the claim and applies extra columns.
func (d *OutboxDispatcher) update(db *gorm.DB, id int, status string, extra map[string]interface{}) error {
	cols := map[string]interface{}{
		"publish_status":  status,
		"locked_at":       nil,
		"locked_by":       nil,
		"next_attempt_at": nil,
	}
	for k, v := range extra {
		cols[k] = v
	}
	err := db.Model(&models.RegistryEventRecord{}).Where("id = ?", id).Updates(cols).Error
	if err != nil {
		config.LogError(d.Logger, "OutboxDispatcher", "update", status, id, err)
	}
	return err
}

// OutboxBackoff doubles initial per attempt, capped at ten minutes.
func OutboxBackoff(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > maxOutboxBackoff {
			return maxOutboxBackoff
		}
	}
	return backoff
}
