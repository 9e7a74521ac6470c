package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppInsert = `
	INSERT INTO opportunities (
		id, path, legs, input_asset, input_qty, output_qty,
		gross_return, fee_adjusted_return, risk_adjusted_return,
		worst_leg_fill_ratio, limited_by, detected_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9,
		$10, $11, $12
	)`

const oppSelectCols = `id, path, legs, input_asset, input_qty, output_qty,
	gross_return, fee_adjusted_return, risk_adjusted_return,
	worst_leg_fill_ratio, limited_by, detected_at`

// InsertBatch stores opportunities in one round trip.
func (s *OpportunityStore) InsertBatch(ctx context.Context, opps []domain.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, opp := range opps {
		legs, err := json.Marshal(opp.Legs)
		if err != nil {
			return fmt.Errorf("postgres: encode legs for %s: %w", opp.ID, err)
		}
		batch.Queue(oppInsert,
			opp.ID, opp.Path, legs, string(opp.InputAsset), opp.InputQty, opp.OutputQty,
			opp.GrossReturn, opp.FeeAdjReturn, opp.RiskAdjReturn,
			opp.WorstLegFill, string(opp.LimitedBy), opp.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range opps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert opportunity batch item %d: %w", i, err)
		}
	}
	return nil
}

// scanOpportunity scans a single row into a domain.Opportunity.
func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var opp domain.Opportunity
	var inputAsset, limitedBy string
	var legs []byte
	err := row.Scan(
		&opp.ID, &opp.Path, &legs, &inputAsset, &opp.InputQty, &opp.OutputQty,
		&opp.GrossReturn, &opp.FeeAdjReturn, &opp.RiskAdjReturn,
		&opp.WorstLegFill, &limitedBy, &opp.DetectedAt,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}
	if err := json.Unmarshal(legs, &opp.Legs); err != nil {
		return domain.Opportunity{}, fmt.Errorf("decode legs: %w", err)
	}
	opp.InputAsset = domain.Asset(inputAsset)
	opp.LimitedBy = domain.LimitedBy(limitedBy)
	return opp, nil
}

// GetByID retrieves an opportunity by its id.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.Opportunity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+oppSelectCols+` FROM opportunities WHERE id = $1`, id)
	opp, err := scanOpportunity(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Opportunity{}, domain.ErrNotFound
		}
		return domain.Opportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return opp, nil
}

// ListRecent returns the most recent opportunities ordered by detection time.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunities ORDER BY detected_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	return collectOpportunities(rows)
}

// ListByAsset returns opportunities rooted at the given input asset, with
// pagination and optional time filtering.
func (s *OpportunityStore) ListByAsset(ctx context.Context, asset domain.Asset, opts domain.ListOpts) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunities WHERE input_asset = $1`
	args := []any{string(asset)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND detected_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND detected_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY detected_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities by asset: %w", err)
	}
	defer rows.Close()

	return collectOpportunities(rows)
}

func collectOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return opps, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
