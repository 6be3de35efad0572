package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const ExpiryScanFlowName = "Vencimento de Documentos"

// ExpirySource lists expiring documents and records their outbox events.
type ExpirySource interface {
	ListExpiring(ctx context.Context, days int, today time.Time) ([]*models.ExpiringDocument, error)
	RecordExpiring(ctx context.Context, docs []*models.ExpiringDocument, author string) error
}

type DBExpirySource struct{}

func (DBExpirySource) ListExpiring(ctx context.Context, days int, today time.Time) ([]*models.ExpiringDocument, error) {
	return models.ListExpiringDocuments(ctx, days, false, today)
}

func (DBExpirySource) RecordExpiring(ctx context.Context, docs []*models.ExpiringDocument, author string) error {
	return models.RecordExpiringDocuments(ctx, docs, author)
}

// ExpiryScanner publishes one client.document.expiring event per document and
// expiry date. Documents already notified are remembered in Redis
// (ExpiryNotified:<id>:<date>), or in memory without Redis.
type ExpiryScanner struct {
	source   ExpirySource
	logger   *logrus.Logger
	days     int
	schedule string
	cron     *cron.Cron

	mu       sync.Mutex
	notified map[string]bool
}

func NewExpiryScanner(source ExpirySource, schedule string, days int) *ExpiryScanner {
	if days <= 0 {
		days = models.ExpiryWarningDays
	}
	return &ExpiryScanner{
		source:   source,
		logger:   config.GetLogger(),
		days:     days,
		schedule: schedule,
		cron:     cron.New(),
		notified: make(map[string]bool),
	}
}

// Start schedules the scan. An empty schedule disables it.
func (s *ExpiryScanner) Start() error {
	if s.schedule == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.ScanOnce(ctx, time.Now()); err != nil {
			config.LogError(s.logger, "ExpiryScanner", "cron", "scan failed", s.schedule, err)
		}
	}); err != nil {
		return fmt.Errorf("schedule expiry scan %q: %w", s.schedule, err)
	}
	s.cron.Start()
	return nil
}

func (s *ExpiryScanner) Stop() {
	<-s.cron.Stop().Done()
}

func notifiedKey(d *models.ExpiringDocument) string {
	return fmt.Sprintf("ExpiryNotified:%d:%s", d.DocumentoId, d.DataValidade)
}

// ScanOnce records events for documents not notified before and returns them.
func (s *ExpiryScanner) ScanOnce(ctx context.Context, today time.Time) ([]*models.ExpiringDocument, error) {
	docs, err := s.source.ListExpiring(ctx, s.days, today)
	if err != nil {
		return nil, err
	}
	var fresh []*models.ExpiringDocument
	for _, d := range docs {
		if !s.wasNotified(notifiedKey(d)) {
			fresh = append(fresh, d)
		}
	}
	if len(fresh) == 0 {
		return fresh, nil
	}
	if err := s.source.RecordExpiring(ctx, fresh, utils.SystemAuthor(ExpiryScanFlowName)); err != nil {
		return nil, err
	}
	// keep the mark until the document is past its expiry
	ttl := time.Duration(s.days+1) * 24 * time.Hour
	for _, d := range fresh {
		s.markNotified(notifiedKey(d), ttl)
	}
	config.LogInfo(s.logger, "ExpiryScanner", "ScanOnce", "expiring documents notified", len(fresh))
	return fresh, nil
}

func (s *ExpiryScanner) wasNotified(key string) bool {
	if config.GetRedisDB() != nil {
		_, found, err := config.GetRedisValue(key)
		if err == nil {
			return found
		}
		config.LogError(s.logger, "ExpiryScanner", "wasNotified", "redis get", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notified[key]
}

func (s *ExpiryScanner) markNotified(key string, ttl time.Duration) {
	if config.GetRedisDB() != nil {
		if err := config.SetRedisValue(key, "1", ttl); err == nil {
			return
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified[key] = true
}
