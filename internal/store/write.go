package store

import (
	"context"
	"fmt"

	"github.com/roach88/casecore/internal/contract"
)

// Save inserts c keyed by its content hash. Saving the same contract twice
// is a no-op; the original seq is kept. Implements contract.Writer.
func (s *SQLite) Save(ctx context.Context, c *contract.Contract) error {
	doc, err := marshalContract(c)
	if err != nil {
		return fmt.Errorf("write contract: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contracts
		(hash, consumer, provider, core_version, interactions, document, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM contracts))
		ON CONFLICT(hash) DO NOTHING
	`,
		c.Metadata.Hash,
		c.Consumer,
		c.Provider,
		c.Metadata.CoreVersion,
		len(c.Interactions),
		doc,
	)
	if err != nil {
		return fmt.Errorf("write contract: %w", err)
	}
	return nil
}

// RecordRun stores the outcome of verifying c in the session identified
// by verificationID. The contract is saved first so the run can reference
// it. A second report for the same session and contract replaces nothing.
func (s *SQLite) RecordRun(ctx context.Context, verificationID string, c *contract.Contract, report *contract.Report) error {
	if err := s.Save(ctx, c); err != nil {
		return err
	}
	doc, reportHash, err := marshalReport(report)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_runs
		(verification_id, contract_hash, pass, interactions, failures, report, report_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(verification_id, contract_hash) DO NOTHING
	`,
		verificationID,
		c.Metadata.Hash,
		report.Pass,
		len(report.Results),
		report.Failures(),
		doc,
		reportHash,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}
