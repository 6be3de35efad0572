package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// AiUsageLog is one generator call made by an AI flow.
type AiUsageLog struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	Flow          string              `gorm:"size:64;not null;index:idx_ai_usage_flow,priority:1" json:"flow"`
	Operation     string              `gorm:"size:100;index" json:"operation,omitempty"`
	Model         string              `gorm:"size:100;index" json:"model"`
	Status        aiflows.UsageStatus `gorm:"size:20;not null;index" json:"status"`
	UserId        *int                `gorm:"index" json:"userId"`
	Prompt        string              `gorm:"type:text" json:"prompt"`
	Response      string              `gorm:"type:mediumtext" json:"-"`
	RequestBytes  int                 `gorm:"not null;default:0" json:"requestBytes"`
	ResponseBytes int                 `gorm:"not null;default:0" json:"responseBytes"`
	InputTokens   int                 `gorm:"not null;default:0" json:"inputTokens"`
	OutputTokens  int                 `gorm:"not null;default:0" json:"outputTokens"`
	CustoEstimado decimal.Decimal     `gorm:"type:decimal(14,6);not null;default:0" json:"custoEstimado"`
	LatencyMs     int64               `gorm:"not null;default:0" json:"latencyMs"`
	Error         string              `gorm:"type:text" json:"error,omitempty"`
	CreatedAt     time.Time           `gorm:"autoCreateTime;index;index:idx_ai_usage_flow,priority:2" json:"createdAt"`
}

var promptRedactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}`), "[CNPJ]"},
	{regexp.MustCompile(`\d{3}\.\d{3}\.\d{3}-\d{2}`), "[CPF]"},
	{regexp.MustCompile(`\d{1,2}\.\d{3}\.\d{3}-[\dxX]`), "[RG]"},
	{regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`), "[CARTAO]"},
	{regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`), "[EMAIL]"},
	{regexp.MustCompile(`\b\d{5}-\d{3}\b`), "[CEP]"},
}

// SanitizePrompt masks personal documents and contacts before a prompt is stored.
func SanitizePrompt(s string) string {
	for _, r := range promptRedactions {
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}

// AiPricing is the price per million tokens used for custoEstimado.
type AiPricing struct {
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
}

// AiPricingFromEnv reads AI_PRICE_INPUT_PER_MTOK and AI_PRICE_OUTPUT_PER_MTOK (USD).
func AiPricingFromEnv() AiPricing {
	read := func(key string, def string) decimal.Decimal {
		d, err := decimal.NewFromString(config.EnvString(key, def))
		if err != nil || d.IsNegative() {
			d, _ = decimal.NewFromString(def)
		}
		return d
	}
	return AiPricing{
		InputPerMillion:  read("AI_PRICE_INPUT_PER_MTOK", "0.30"),
		OutputPerMillion: read("AI_PRICE_OUTPUT_PER_MTOK", "2.50"),
	}
}

func (p AiPricing) Cost(inputTokens int, outputTokens int) decimal.Decimal {
	million := decimal.NewFromInt(1_000_000)
	in := p.InputPerMillion.Mul(decimal.NewFromInt(int64(inputTokens))).Div(million)
	out := p.OutputPerMillion.Mul(decimal.NewFromInt(int64(outputTokens))).Div(million)
	return in.Add(out).Round(6)
}

// AiUsageStore implements aiflows.UsageRecorder on the ai_usage_logs table.
type AiUsageStore struct {
	Pricing AiPricing
}

func newAiUsageLog(u aiflows.Usage, pricing AiPricing) *AiUsageLog {
	row := &AiUsageLog{
		Flow:          u.Flow,
		Operation:     u.Operation,
		Model:         u.Model,
		Status:        u.Status,
		Prompt:        SanitizePrompt(u.Prompt),
		Response:      u.Response,
		RequestBytes:  u.RequestBytes,
		ResponseBytes: u.ResponseBytes,
		InputTokens:   u.InputTokens,
		OutputTokens:  u.OutputTokens,
		CustoEstimado: pricing.Cost(u.InputTokens, u.OutputTokens),
		LatencyMs:     u.Latency.Milliseconds(),
		Error:         u.Error,
	}
	if u.UserId > 0 {
		userId := u.UserId
		row.UserId = &userId
	}
	return row
}

// RecordUsage logs and swallows write failures; usage is never worth failing a flow for.
func (s AiUsageStore) RecordUsage(ctx context.Context, u aiflows.Usage) {
	db := config.GetDB()
	if db == nil {
		return
	}
	if err := db.WithContext(ctx).Create(newAiUsageLog(u, s.Pricing)).Error; err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"field": "aiUsage",
			"flow":  u.Flow,
		}).Error("record ai usage: " + err.Error())
	}
}

// AiUsageFilter narrows the log list; zero members are ignored.
type AiUsageFilter struct {
	Flow   string
	Model  string
	Status aiflows.UsageStatus
	From   *time.Time
	To     *time.Time
	Search string
	// UserId restricts the list to one user's calls.
	UserId *int
}

func (f AiUsageFilter) apply(db *gorm.DB) *gorm.DB {
	if f.Flow != "" {
		db = db.Where("flow = ?", f.Flow)
	}
	if f.Model != "" {
		db = db.Where("model = ?", f.Model)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.From != nil {
		db = db.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		db = db.Where("created_at < ?", *f.To)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		db = db.Where("prompt LIKE ? OR error LIKE ? OR operation LIKE ?", like, like, like)
	}
	if f.UserId != nil {
		db = db.Where("user_id = ?", *f.UserId)
	}
	return db
}

type AiUsagePage struct {
	Logs        []*AiUsageLog `json:"logs"`
	EndCursor   int           `json:"endCursor,omitempty"`
	HasNextPage bool          `json:"hasNextPage"`
}

// ListAiUsageLogs pages newest first; after is the id of the last row already seen.
func ListAiUsageLogs(ctx context.Context, filter AiUsageFilter, limit int, after int) (*AiUsagePage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	db := filter.apply(config.GetDB().WithContext(ctx).Model(&AiUsageLog{}))
	if after > 0 {
		db = db.Where("id < ?", after)
	}
	var rows []*AiUsageLog
	if err := db.Omit("response").Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, err
	}
	page := &AiUsagePage{Logs: rows}
	if len(rows) > limit {
		page.Logs = rows[:limit]
		page.HasNextPage = true
	}
	if n := len(page.Logs); n > 0 {
		page.EndCursor = page.Logs[n-1].ID
	}
	return page, nil
}

// GetAiUsageLog returns one row; userId, when set, must own it.
func GetAiUsageLog(ctx context.Context, id int, userId *int) (*AiUsageLog, error) {
	var row AiUsageLog
	db := config.GetDB().WithContext(ctx)
	if userId != nil {
		db = db.Where("user_id = ?", *userId)
	}
	if err := db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &row, nil
}

// ListOperationUsage returns the calls tagged with operation, newest first.
func ListOperationUsage(ctx context.Context, flow string, operation string) ([]*AiUsageLog, error) {
	var rows []*AiUsageLog
	err := config.GetDB().WithContext(ctx).
		Omit("prompt", "response").
		Where("flow = ? AND operation = ?", flow, operation).
		Order("id DESC").
		Limit(50).
		Find(&rows).Error
	return rows, err
}

type AiUsageBucket struct {
	Key          string          `json:"key"`
	Count        int64           `json:"count"`
	InputTokens  int64           `json:"inputTokens"`
	OutputTokens int64           `json:"outputTokens"`
	Custo        decimal.Decimal `json:"custo"`
	AvgLatencyMs float64         `json:"avgLatencyMs"`
}

type AiUsageStats struct {
	From      time.Time        `json:"from"`
	To        time.Time        `json:"to"`
	Totals    AiUsageBucket    `json:"totals"`
	PorFlow   []*AiUsageBucket `json:"porFlow"`
	PorModelo []*AiUsageBucket `json:"porModelo"`
	PorStatus []*AiUsageBucket `json:"porStatus"`
	PorDia    []*AiUsageBucket `json:"porDia"`
}

const aiUsageAggregates = "COUNT(*) AS count, COALESCE(SUM(input_tokens),0) AS input_tokens, " +
	"COALESCE(SUM(output_tokens),0) AS output_tokens, COALESCE(SUM(custo_estimado),0) AS custo, " +
	"COALESCE(AVG(latency_ms),0) AS avg_latency_ms"

// DefaultAiUsagePeriod is the stats window when no dates are given.
const DefaultAiUsagePeriod = 30 * 24 * time.Hour

// GetAiUsageStats aggregates the window [from, to). Days are capped at the last 30 in the window.
func GetAiUsageStats(ctx context.Context, filter AiUsageFilter, now time.Time) (*AiUsageStats, error) {
	to := now
	if filter.To != nil {
		to = *filter.To
	}
	from := to.Add(-DefaultAiUsagePeriod)
	if filter.From != nil {
		from = *filter.From
	}
	filter.From, filter.To = &from, &to
	base := func() *gorm.DB {
		return filter.apply(config.GetDB().WithContext(ctx).Model(&AiUsageLog{}))
	}

	stats := &AiUsageStats{From: from, To: to}
	if err := base().Select(aiUsageAggregates).Scan(&stats.Totals).Error; err != nil {
		return nil, err
	}
	groups := []struct {
		expr string
		out  *[]*AiUsageBucket
		desc string
	}{
		{"flow", &stats.PorFlow, "count DESC"},
		{"model", &stats.PorModelo, "count DESC"},
		{"status", &stats.PorStatus, "count DESC"},
		{"DATE_FORMAT(created_at, '%Y-%m-%d')", &stats.PorDia, "`key` DESC"},
	}
	for _, g := range groups {
		q := base().Select(g.expr + " AS `key`, " + aiUsageAggregates).Group("`key`").Order(g.desc)
		if g.out == &stats.PorDia {
			q = q.Limit(30)
		}
		if err := q.Scan(g.out).Error; err != nil {
			return nil, fmt.Errorf("ai usage stats by %s: %w", g.expr, err)
		}
	}
	return stats, nil
}

type AiUsageCosts struct {
	PorFlow    []*AiUsageBucket `json:"porFlow"`
	PorModelo  []*AiUsageBucket `json:"porModelo"`
	MaisCaros  []*AiUsageLog    `json:"maisCaros"`
	CustoTotal decimal.Decimal  `json:"custoTotal"`
}

// GetAiUsageCosts breaks the estimated cost down for the tabeliao's cost report.
func GetAiUsageCosts(ctx context.Context, filter AiUsageFilter) (*AiUsageCosts, error) {
	base := func() *gorm.DB {
		return filter.apply(config.GetDB().WithContext(ctx).Model(&AiUsageLog{}))
	}
	costs := &AiUsageCosts{}
	if err := base().Select("flow AS `key`, " + aiUsageAggregates).Group("flow").Order("custo DESC").Scan(&costs.PorFlow).Error; err != nil {
		return nil, err
	}
	if err := base().Select("model AS `key`, " + aiUsageAggregates).Group("model").Order("custo DESC").Scan(&costs.PorModelo).Error; err != nil {
		return nil, err
	}
	if err := base().Omit("prompt", "response").Order("custo_estimado DESC, id DESC").Limit(10).Find(&costs.MaisCaros).Error; err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, b := range costs.PorFlow {
		total = total.Add(b.Custo)
	}
	costs.CustoTotal = total
	return costs, nil
}

// DefaultAiUsageRetentionDays is used by cleanup when no retention is given.
const DefaultAiUsageRetentionDays = 90

// CleanupAiUsageLogs deletes rows older than days and returns how many went.
func CleanupAiUsageLogs(ctx context.Context, days int, now time.Time) (int64, error) {
	if days < 1 {
		return 0, utils.NewValidationError("dias", "retention must be at least 1 day")
	}
	cutoff := now.AddDate(0, 0, -days)
	res := config.GetDB().WithContext(ctx).Where("created_at < ?", cutoff).Delete(&AiUsageLog{})
	return res.RowsAffected, res.Error
}

var aiUsageExportHeadings = []string{"ID", "Data", "Fluxo", "Operação", "Modelo", "Status", "Usuário",
	"Tokens entrada", "Tokens saída", "Custo estimado (USD)", "Latência (ms)", "Erro"}

// ExportAiUsageXlsx writes the filtered log (at most 10000 rows) as a spreadsheet.
func ExportAiUsageXlsx(ctx context.Context, filter AiUsageFilter, w io.Writer) error {
	var rows []*AiUsageLog
	if err := filter.apply(config.GetDB().WithContext(ctx).Model(&AiUsageLog{})).
		Omit("prompt", "response").
		Order("id DESC").
		Limit(10000).
		Find(&rows).Error; err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Uso de IA"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	for i, h := range aiUsageExportHeadings {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for i, r := range rows {
		user := ""
		if r.UserId != nil {
			user = fmt.Sprint(*r.UserId)
		}
		values := []interface{}{
			r.ID,
			r.CreatedAt.Format("02/01/2006 15:04:05"),
			r.Flow,
			r.Operation,
			r.Model,
			string(r.Status),
			user,
			r.InputTokens,
			r.OutputTokens,
			r.CustoEstimado.InexactFloat64(),
			r.LatencyMs,
			r.Error,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			f.SetCellValue(sheet, cell, v)
		}
	}
	if err := f.SetColWidth(sheet, "L", "L", 60); err != nil {
		return err
	}
	return f.Write(w)
}
