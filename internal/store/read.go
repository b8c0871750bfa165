package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/failure"
)

// ContractSummary describes a stored contract without its document.
type ContractSummary struct {
	Hash         string `json:"hash"`
	Consumer     string `json:"consumer"`
	Provider     string `json:"provider"`
	CoreVersion  string `json:"coreVersion"`
	Interactions int    `json:"interactions"`
	Seq          int64  `json:"seq"`
	CreatedAt    string `json:"createdAt"`
}

// Run is one stored verification outcome. ReportHash fingerprints the
// stored report; equal reports share it.
type Run struct {
	VerificationID string `json:"verificationId"`
	ContractHash   string `json:"contractHash"`
	Pass           bool   `json:"pass"`
	Interactions   int    `json:"interactions"`
	Failures       int    `json:"failures"`
	ReportHash     string `json:"reportHash"`
	CreatedAt      string `json:"createdAt"`
}

// Latest returns the most recently saved contract between consumer and
// provider.
func (s *SQLite) Latest(ctx context.Context, consumer, provider string) (*contract.Contract, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT document FROM contracts
		WHERE consumer = ? AND provider = ?
		ORDER BY seq DESC
		LIMIT 1
	`, consumer, provider).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failure.Configuration(nil, "no contract stored between %s and %s", consumer, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("query contract: %w", err)
	}
	return unmarshalContract(doc)
}

// ByHash returns the contract with the given content hash.
func (s *SQLite) ByHash(ctx context.Context, hash string) (*contract.Contract, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM contracts WHERE hash = ?`, hash).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failure.Configuration(nil, "no contract stored with hash %s", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("query contract: %w", err)
	}
	return unmarshalContract(doc)
}

// List returns every stored contract, oldest first.
// Returns an empty slice (not nil) when nothing is stored.
func (s *SQLite) List(ctx context.Context) ([]ContractSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, consumer, provider, core_version, interactions, seq, created_at
		FROM contracts
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query contracts: %w", err)
	}
	defer rows.Close()

	out := []ContractSummary{}
	for rows.Next() {
		var cs ContractSummary
		if err := rows.Scan(&cs.Hash, &cs.Consumer, &cs.Provider, &cs.CoreVersion, &cs.Interactions, &cs.Seq, &cs.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contracts: %w", err)
	}
	return out, nil
}

// Runs returns the verification history of every contract between
// consumer and provider, oldest first.
func (s *SQLite) Runs(ctx context.Context, consumer, provider string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.verification_id, r.contract_hash, r.pass, r.interactions, r.failures,
			COALESCE(r.report_hash, ''), r.created_at
		FROM verification_runs r
		JOIN contracts c ON r.contract_hash = c.hash
		WHERE c.consumer = ? AND c.provider = ?
		ORDER BY r.id ASC
	`, consumer, provider)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.VerificationID, &r.ContractHash, &r.Pass, &r.Interactions, &r.Failures, &r.ReportHash, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
