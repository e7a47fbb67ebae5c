package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerService is the dedup ledger over externally-keyed receipts. One row
// per raw receipt with a nonempty external id.
type LedgerService struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewLedgerService(db *pgxpool.Pool, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		db:     db,
		logger: logger,
	}
}

// Seen reports whether an external id was already recorded in the ledger.
// An empty external id is never recorded and never a hit.
func (s *LedgerService) Seen(ctx context.Context, externalID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "receipts.LedgerSeen")
	defer span.End()

	if externalID == "" {
		return false, nil
	}

	var id string
	err := s.db.QueryRow(ctx, `SELECT external_id FROM receipt_ledger WHERE external_id = $1`, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}

	return true, nil
}

// Mark upserts the ledger entry for an external id with its processing
// status and optional error message.
func (s *LedgerService) Mark(ctx context.Context, externalID, sourceName string, status ProcessingStatus, errorMessage *string) error {
	ctx, span := tracer.Start(ctx, "receipts.LedgerMark")
	defer span.End()

	if externalID == "" {
		return nil
	}

	query := `
		INSERT INTO receipt_ledger (external_id, source_name, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()
	`

	_, err := s.db.Exec(ctx, query, externalID, sourceName, status, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}

	s.logger.Debug("Updated dedup ledger",
		"external_id", externalID,
		"source", sourceName,
		"status", status)
	return nil
}
