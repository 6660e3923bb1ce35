package executor

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"MailFlow/internal/models"
	"MailFlow/internal/validate"
)

// emailColumns and nameColumns are the row columns recognized as the
// recipient address and display name; everything else becomes metadata.
var emailColumns = []string{"recipient_email", "email"}
var nameColumns = []string{"recipient_name", "contact_name", "name"}

// Resolver turns a workflow's recipient query into validated Recipients.
// The query itself runs on the backend; this side only maps rows and
// filters addresses. Backend failures degrade to empty results so a broken
// query makes the run a no-op instead of crashing it.
type Resolver struct {
	backend   Backend
	validator *validate.Validator
	log       *zap.Logger
}

func NewResolver(b Backend, v *validate.Validator, log *zap.Logger) *Resolver {
	return &Resolver{backend: b, validator: v, log: log}
}

// Resolve fetches, maps, dedupes, and validates the workflow's recipients.
// The returned invalid list carries the addresses skipped before sending.
func (r *Resolver) Resolve(ctx context.Context, wf *models.Workflow, params map[string]any) ([]models.Recipient, []validate.Invalid) {
	if wf.RecipientQuery == "" {
		return nil, nil
	}

	rows, err := r.backend.QueryRecipients(ctx, wf.ID, wf.RecipientQuery, params)
	if err != nil {
		r.log.Error("recipient query failed",
			zap.Int64("workflow_id", wf.ID),
			zap.Error(err),
		)
		return nil, nil
	}

	byEmail := make(map[string]models.Recipient)
	var order []string
	for _, row := range rows {
		rec, ok := mapRow(row)
		if !ok {
			continue
		}
		if _, seen := byEmail[rec.Email]; seen {
			continue // at most one send per address per run
		}
		byEmail[rec.Email] = rec
		order = append(order, rec.Email)
	}

	result := r.validator.Validate(ctx, order)

	recipients := make([]models.Recipient, 0, len(result.Valid))
	for _, email := range result.Valid {
		recipients = append(recipients, byEmail[email])
	}

	r.log.Info("recipients resolved",
		zap.Int64("workflow_id", wf.ID),
		zap.Int("rows", len(rows)),
		zap.Int("valid", len(recipients)),
		zap.Int("invalid", len(result.Invalid)),
	)
	return recipients, result.Invalid
}

// mapRow extracts email/name from their well-known columns and keeps the
// remaining columns as template metadata.
func mapRow(row map[string]any) (models.Recipient, bool) {
	var rec models.Recipient

	emailCol := ""
	for _, col := range emailColumns {
		if v, ok := row[col].(string); ok && v != "" {
			rec.Email = strings.ToLower(strings.TrimSpace(v))
			emailCol = col
			break
		}
	}
	if rec.Email == "" {
		return rec, false
	}

	for _, col := range nameColumns {
		if v, ok := row[col].(string); ok && v != "" {
			rec.Name = v
			break
		}
	}

	rec.Metadata = make(map[string]any, len(row))
	for k, v := range row {
		if k == emailCol {
			continue
		}
		rec.Metadata[k] = v
	}
	return rec, true
}
