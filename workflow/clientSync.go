package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/reconcile"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// author of fields committed by the auto sync after an act extraction
const ExtractionFlowName = "Extração de Ato"

const clientLockTTL = 30 * time.Second

type SyncMode string

const (
	SyncManual SyncMode = "manual"
	SyncAuto   SyncMode = "auto"
)

func ParseSyncMode(s string, def SyncMode) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case string(SyncManual):
		return SyncManual, nil
	case string(SyncAuto):
		return SyncAuto, nil
	}
	return "", utils.NewValidationError("sync", "must be auto or manual")
}

// Extractor is the slice of aiflows the sync workflows call.
type Extractor interface {
	ExtractActDetails(ctx context.Context, text string) (reconcile.Extraction, error)
	CheckMinuteData(ctx context.Context, input aiflows.MinuteCheckInput) (*aiflows.MinuteCheckOutput, error)
}

// ClientSync runs extraction, verification and commit against the registry.
type ClientSync struct {
	registry Registry
	flows    Extractor
	guard    *RequestGuard
	tracer   trace.Tracer
}

func NewClientSync(registry Registry, flows Extractor, guard *RequestGuard) *ClientSync {
	if guard == nil {
		guard = NewRequestGuard()
	}
	return &ClientSync{
		registry: registry,
		flows:    flows,
		guard:    guard,
		tracer:   otel.Tracer("cartorio/workflow"),
	}
}

type ExtractActResult struct {
	AtoId      int                          `json:"atoId"`
	Extraction reconcile.Extraction         `json:"extraction"`
	Report     *reconcile.Report            `json:"report"`
	Cached     bool                         `json:"cached"`
	Stale      bool                         `json:"stale"`
	Committed  []*models.CommitFieldsResult `json:"committed"`
}

// ExtractAct returns the act's cached extraction, or runs the extraction flow
// and caches its result. In auto mode the fields of every matched party are
// committed right after a fresh extraction is stored. A result that completes
// after a newer request on the same act is returned as stale and not written.
func (s *ClientSync) ExtractAct(ctx context.Context, atoId int, mode SyncMode, opts reconcile.Options) (*ExtractActResult, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.ExtractAct")
	defer span.End()
	span.SetAttributes(attribute.Int("ato.id", atoId), attribute.String("sync.mode", string(mode)))

	ato, err := s.registry.GetAto(ctx, atoId)
	if err != nil {
		return nil, err
	}
	result := &ExtractActResult{AtoId: atoId, Committed: []*models.CommitFieldsResult{}}

	if ato.DadosExtraidos != nil {
		result.Extraction = ato.DadosExtraidos.Extraction()
		result.Cached = true
	} else {
		ref := fmt.Sprintf("ato:%d", atoId)
		ticket := s.guard.Begin(ctx, ref)
		ex, err := s.flows.ExtractActDetails(aiflows.WithOperation(ctx, ref), ato.Conteudo)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Extraction = ex
		if !s.guard.IsLatest(ctx, ticket) {
			result.Stale = true
		} else {
			saved, err := s.registry.SaveExtraction(ctx, atoId, ato.Conteudo, ex, utils.SystemAuthor(ExtractionFlowName))
			if err != nil {
				return nil, err
			}
			if !saved {
				current, err := s.registry.GetAto(ctx, atoId)
				if err != nil {
					return nil, err
				}
				switch {
				case current.Conteudo != ato.Conteudo:
					// the act was edited while the model was reading the old text
					result.Stale = true
				case current.DadosExtraidos != nil:
					// a concurrent request stored first; its extraction is the one kept
					result.Extraction = current.DadosExtraidos.Extraction()
					result.Cached = true
				default:
					result.Stale = true
				}
			}
		}
	}

	report, err := s.verify(ctx, result.Extraction, opts)
	if err != nil && !errors.Is(err, reconcile.ErrNoMatchingClients) {
		return nil, err
	}
	result.Report = report

	if mode != SyncAuto || result.Cached || result.Stale {
		return result, nil
	}
	author := utils.SystemAuthor(ExtractionFlowName)
	for _, check := range report.ClientChecks {
		fields := check.Selectable()
		if len(fields) == 0 {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		committed, err := s.CommitSelected(ctx, check.ClientID, fields, author)
		if err != nil {
			return nil, err
		}
		result.Committed = append(result.Committed, committed)
	}
	span.SetAttributes(attribute.Int("sync.committed_clients", len(result.Committed)))
	return result, nil
}

// VerifyAct compares the act's cached extraction against the registry.
func (s *ClientSync) VerifyAct(ctx context.Context, atoId int, opts reconcile.Options) (*reconcile.Report, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.VerifyAct")
	defer span.End()

	ato, err := s.registry.GetAto(ctx, atoId)
	if err != nil {
		return nil, err
	}
	if ato.DadosExtraidos == nil {
		return nil, utils.NewValidationError("ato", "ato has not been extracted yet")
	}
	return s.verify(ctx, ato.DadosExtraidos.Extraction(), opts)
}

type MinuteCheckRequest struct {
	Texto string `json:"texto" validate:"required"`
	// Partes are the names the user expects in the minute; their records are
	// sent to the model for the document-wide remarks.
	Partes       []string `json:"partes"`
	RequireMatch *bool    `json:"requireMatch"`
}

type MinuteCheckResult struct {
	Extraction reconcile.Extraction `json:"extraction"`
	Report     *reconcile.Report    `json:"report"`
	Stale      bool                 `json:"stale"`
}

// CheckMinute extracts a draft and verifies it. With RequireMatch the report is
// returned together with reconcile.ErrNoMatchingClients when no party matched.
// key scopes the request sequence, normally the session user.
func (s *ClientSync) CheckMinute(ctx context.Context, key string, req MinuteCheckRequest, opts reconcile.Options) (*MinuteCheckResult, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.CheckMinute")
	defer span.End()

	req.Texto = strings.TrimSpace(req.Texto)
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.RequireMatch != nil {
		opts.RequireMatch = *req.RequireMatch
	}

	ticket := s.guard.Begin(ctx, "minute:"+key)
	hinted, err := s.registry.ProfilesByNames(ctx, req.Partes)
	if err != nil {
		return nil, err
	}
	out, err := s.flows.CheckMinuteData(ctx, aiflows.MinuteCheckInput{Texto: req.Texto, Profiles: hinted})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := &MinuteCheckResult{Extraction: out.Extraction, Stale: !s.guard.IsLatest(ctx, ticket)}
	report, verr := s.verify(ctx, out.Extraction, opts)
	if report == nil {
		return nil, verr
	}
	report.Geral = append(report.Geral, out.Geral...)
	result.Report = report
	return result, verr
}

// CommitSelected upserts the user-selected fields into one client's
// dadosAdicionais. Concurrent commits on the same client are serialised by a
// Redis lock when one is available; the row lock in the transaction is the
// actual guarantee.
func (s *ClientSync) CommitSelected(ctx context.Context, clientId int, fields []reconcile.Field, author string) (*models.CommitFieldsResult, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.CommitSelected")
	defer span.End()
	span.SetAttributes(attribute.Int("client.id", clientId), attribute.Int("fields", len(fields)))

	lock := obtainClientLock(ctx, clientId)
	defer func() {
		if lock == nil {
			return
		}
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.GetLogger().WithFields(logrus.Fields{
				"field":     "CommitSelected",
				"client_id": clientId,
			}).Warn("failed to release redis lock: " + err.Error())
		}
	}()

	return s.registry.CommitFields(ctx, clientId, fields, author)
}

func obtainClientLock(ctx context.Context, clientId int) *redislock.Lock {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("lock:client:%d", clientId), clientLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
	if err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"field":     "CommitSelected",
			"client_id": clientId,
		}).Warn("could not obtain redis lock; proceeding without redis lock: " + err.Error())
		return nil
	}
	return lock
}

func (s *ClientSync) verify(ctx context.Context, ex reconcile.Extraction, opts reconcile.Options) (*reconcile.Report, error) {
	profiles, err := s.registry.ProfilesByNames(ctx, ex.PartyNames())
	if err != nil {
		return nil, err
	}
	return reconcile.Verify(ex, profiles, opts)
}
