package store

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
	"github.com/aniemerg/distribution-markets/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Fixed-point quantities are stored as their raw 256-bit integer (value *
// 10^18) in a NUMERIC(78,0) column, preserving exact precision; LP share
// counts use shopspring/decimal's native NUMERIC mapping.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanBigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, mu, sigma, k, b, phase, settlement_authority, total_lp_shares, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8::NUMERIC, $9)`,
		m.ID, m.Mu.Raw().String(), m.Sigma.Raw().String(), m.K.Raw().String(), m.B.Raw().String(),
		string(m.Phase), m.SettlementAuthority, m.TotalLPShares.String(), m.CreatedAt,
	)
	return err
}

func scanMarketRow(row pgxRow) (*model.Market, error) {
	var m model.Market
	var muS, sigmaS, kS, bS, sharesS string
	var phase string

	if err := row.Scan(&m.ID, &muS, &sigmaS, &kS, &bS, &phase, &m.SettlementAuthority, &sharesS, &m.CreatedAt); err != nil {
		return nil, err
	}

	m.Mu = fixedpoint.SFixedFromRaw(scanBigInt(muS))
	m.Sigma = fixedpoint.UFixedFromBigRaw(scanBigInt(sigmaS))
	m.K = fixedpoint.UFixedFromBigRaw(scanBigInt(kS))
	m.B = fixedpoint.UFixedFromBigRaw(scanBigInt(bS))
	m.Phase = model.Phase(phase)
	m.TotalLPShares, _ = decimal.NewFromString(sharesS)

	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, mu::TEXT, sigma::TEXT, k::TEXT, b::TEXT, phase, settlement_authority, total_lp_shares::TEXT, created_at
		 FROM markets WHERE id = $1`, id)
	m, err := scanMarketRow(row)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, mu::TEXT, sigma::TEXT, k::TEXT, b::TEXT, phase, settlement_authority, total_lp_shares::TEXT, created_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketState(ctx context.Context, id string, mu fixedpoint.SFixed, sigma, k, b fixedpoint.UFixed) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET mu = $2::NUMERIC, sigma = $3::NUMERIC, k = $4::NUMERIC, b = $5::NUMERIC WHERE id = $1`,
		id, mu.Raw().String(), sigma.Raw().String(), k.Raw().String(), b.Raw().String(),
	)
	return err
}

func (s *PostgresStore) SettleMarket(ctx context.Context, id string, xFinal fixedpoint.SFixed) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET phase = $2, x_final = $3::NUMERIC, settled_at = now() WHERE id = $1`,
		id, string(model.PhaseSettled), xFinal.Raw().String(),
	)
	return err
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, market_id, owner_id, kind, mu, sigma, k, collateral, old_mu, old_sigma, lp_shares, settled, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13)`,
		p.ID, p.MarketID, p.OwnerID, string(p.Kind),
		p.Mu.Raw().String(), p.Sigma.Raw().String(), p.K.Raw().String(), p.Collateral.Raw().String(),
		p.OldMu.Raw().String(), p.OldSigma.Raw().String(), p.LPShares.String(), p.Settled, p.CreatedAt,
	)
	return err
}

func scanPositionRow(row pgxRow) (*model.Position, error) {
	var p model.Position
	var kind string
	var muS, sigmaS, kS, collS, oldMuS, oldSigmaS, sharesS string

	if err := row.Scan(&p.ID, &p.MarketID, &p.OwnerID, &kind,
		&muS, &sigmaS, &kS, &collS, &oldMuS, &oldSigmaS, &sharesS, &p.Settled, &p.CreatedAt); err != nil {
		return nil, err
	}

	p.Kind = model.PositionKind(kind)
	p.Mu = fixedpoint.SFixedFromRaw(scanBigInt(muS))
	p.Sigma = fixedpoint.UFixedFromBigRaw(scanBigInt(sigmaS))
	p.K = fixedpoint.UFixedFromBigRaw(scanBigInt(kS))
	p.Collateral = fixedpoint.UFixedFromBigRaw(scanBigInt(collS))
	p.OldMu = fixedpoint.SFixedFromRaw(scanBigInt(oldMuS))
	p.OldSigma = fixedpoint.UFixedFromBigRaw(scanBigInt(oldSigmaS))
	p.LPShares, _ = decimal.NewFromString(sharesS)

	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, market_id, owner_id, kind, mu::TEXT, sigma::TEXT, k::TEXT, collateral::TEXT,
		        old_mu::TEXT, old_sigma::TEXT, lp_shares::TEXT, settled, created_at
		 FROM positions WHERE id = $1`, id)
	p, err := scanPositionRow(row)
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) GetPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, owner_id, kind, mu::TEXT, sigma::TEXT, k::TEXT, collateral::TEXT,
		        old_mu::TEXT, old_sigma::TEXT, lp_shares::TEXT, settled, created_at
		 FROM positions WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) GetPositionsByOwner(ctx context.Context, ownerID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, owner_id, kind, mu::TEXT, sigma::TEXT, k::TEXT, collateral::TEXT,
		        old_mu::TEXT, old_sigma::TEXT, lp_shares::TEXT, settled, created_at
		 FROM positions WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows pgxRows) ([]model.Position, error) {
	var result []model.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) MarkPositionSettled(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE positions SET settled = true WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, market_id, position_id, kind, amount, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		e.ID, e.MarketID, e.PositionID, e.Kind, e.Amount.String(), e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, position_id, kind, amount::TEXT, timestamp
		 FROM ledger_entries WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

// pgxRow/pgxRows are the minimal subsets of pgx.Row/pgx.Rows this package
// scans through, kept narrow so scanMarketRow/scanPositionRow work against
// either a single QueryRow result or a Rows cursor.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var amountS string

		if err := rows.Scan(&e.ID, &e.MarketID, &e.PositionID, &e.Kind, &amountS, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amountS)

		entries = append(entries, e)
	}
	return entries, nil
}
