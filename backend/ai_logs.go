package main

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/loveai/backend/match"
)

const aiLogTimeout = 2 * time.Second

// aiLogRecorder writes one ai_logs row per model call.
type aiLogRecorder struct {
	db  *sql.DB
	log *zap.Logger
}

func newAILogRecorder(db *sql.DB, logger *zap.Logger) *aiLogRecorder {
	return &aiLogRecorder{db: db, log: logger}
}

func (a *aiLogRecorder) RecordCall(ctx context.Context, rec match.CallRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), aiLogTimeout)
	defer cancel()

	errText := ""
	if rec.Err != nil {
		errText = rec.Err.Error()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO ai_logs (user_id, operation, model, prompt_tokens, completion_tokens, total_tokens,
		                     cost_usd, latency_ms, success, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, nullInt(rec.UserID), rec.Operation, rec.Model,
		rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens,
		rec.CostUSD, rec.Latency.Milliseconds(), rec.Err == nil, errText)
	if err != nil {
		a.log.Warn("record ai call", zap.String("operation", rec.Operation), zap.Error(err))
	}
}
