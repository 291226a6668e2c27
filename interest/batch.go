package interest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
)

// =============================================================================
// RUN
// =============================================================================

// Run posts the quarter's interest as one batch.
func (e *Engine) Run(ctx context.Context, productCode, quarterKey, actor string) (BatchSummary, error) {
	track := e.metrics.Track("interest_run")
	summary, err := e.run(ctx, productCode, quarterKey, actor)
	return summary, track.End(err)
}

func (e *Engine) run(ctx context.Context, productCode, quarterKey, actor string) (BatchSummary, error) {
	if actor == "" {
		return BatchSummary{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput, "actor is required")
	}
	period, err := e.quarters.Resolve(quarterKey)
	if err != nil {
		return BatchSummary{}, err
	}

	release, err := e.locker.Acquire(ctx, bank.BatchLockKey(productCode, quarterKey))
	if err != nil {
		return BatchSummary{}, err
	}
	defer release()

	if err := e.ensureNoActiveBatch(ctx, productCode, quarterKey); err != nil {
		return BatchSummary{}, err
	}

	preview, err := e.preview(ctx, e.store, productCode, quarterKey)
	if err != nil {
		return BatchSummary{}, err
	}

	var summary BatchSummary
	err = e.store.WithTx(ctx, func(tx bank.Store) error {
		summary = BatchSummary{
			Posted:         []Item{},
			Skipped:        []SkippedAccount{},
			PreviewedCount: preview.AccountCount,
			PreviewedTotal: preview.TotalInterest,
		}
		batch := bank.InterestBatch{
			ID:            uuid.NewString(),
			ProductCode:   productCode,
			QuarterKey:    quarterKey,
			PeriodStart:   period.Start,
			PeriodEnd:     period.End,
			PostedAt:      e.now().UTC(),
			TotalInterest: decimal.Zero,
			Actor:         actor,
		}
		poster := bank.NewPoster(tx, e.logger).WithNow(e.now)

		for _, item := range preview.Items {
			acct, err := tx.GetAccountByID(ctx, item.AccountID)
			switch {
			case bank.IsNotFound(err):
				summary.Skipped = append(summary.Skipped, SkippedAccount{AccountID: item.AccountID, Reason: SkipMissing})
				e.logSkip(productCode, quarterKey, item.AccountID, SkipMissing)
				continue
			case err != nil:
				return fmt.Errorf("reload account %s: %w", item.AccountID, err)
			case !acct.IsActive():
				summary.Skipped = append(summary.Skipped, SkippedAccount{AccountID: item.AccountID, Reason: SkipInactive})
				e.logSkip(productCode, quarterKey, item.AccountID, SkipInactive)
				continue
			}

			if _, _, err := poster.Post(ctx, bank.Posting{
				AccountID:   acct.ID,
				Kind:        bank.EntryInterestCredit,
				Amount:      item.Interest,
				Narration:   fmt.Sprintf("Interest %s on minimum balance %s @ %s%% p.a.", quarterKey, item.MinBalance.StringFixed(2), preview.AnnualRate),
				EffectiveAt: period.End,
				Actor:       actor,
				BatchID:     batch.ID,
			}); err != nil {
				return err
			}
			summary.Posted = append(summary.Posted, item)
			batch.TotalInterest = batch.TotalInterest.Add(item.Interest)
		}

		batch.AccountCount = len(summary.Posted)
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("record batch: %w", err)
		}
		summary.Batch = batch
		summary.SkippedCount = len(summary.Skipped)
		return nil
	})
	if err != nil {
		return BatchSummary{}, err
	}

	e.logger.Info("interest batch posted",
		slog.String("product", productCode),
		slog.String("quarter", quarterKey),
		slog.String("batch_id", summary.Batch.ID),
		slog.Int("accounts", summary.Batch.AccountCount),
		slog.String("total", summary.Batch.TotalInterest.StringFixed(2)),
		slog.Int("skipped", summary.SkippedCount),
		slog.String("actor", actor))
	e.metrics.BatchPosted(productCode, summary.Batch.AccountCount, summary.SkippedCount, summary.Batch.TotalInterest)
	return summary, nil
}

func (e *Engine) ensureNoActiveBatch(ctx context.Context, productCode, quarterKey string) error {
	active, err := e.store.GetActiveBatch(ctx, productCode, quarterKey)
	if err == nil {
		return &bank.Error{
			Kind:    bank.ErrStateConflict,
			Code:    bank.CodeBatchAlreadyActive,
			Message: fmt.Sprintf("interest for %s %s already posted in batch %s; reverse it before re-posting", productCode, quarterKey, active.ID),
		}
	}
	if bank.IsNotFound(err) {
		return nil
	}
	return err
}

func (e *Engine) logSkip(productCode, quarterKey, accountID, reason string) {
	e.logger.Warn("account skipped during interest posting",
		slog.String("product", productCode),
		slog.String("quarter", quarterKey),
		slog.String("account_id", accountID),
		slog.String("reason", reason))
}

// =============================================================================
// REVERSE
// =============================================================================

// Reverse offsets every credit of the quarter's active batch and marks it
// reversed.
func (e *Engine) Reverse(ctx context.Context, productCode, quarterKey, actor string) (ReversalSummary, error) {
	track := e.metrics.Track("interest_reverse")
	summary, err := e.reverse(ctx, productCode, quarterKey, actor)
	return summary, track.End(err)
}

func (e *Engine) reverse(ctx context.Context, productCode, quarterKey, actor string) (ReversalSummary, error) {
	if actor == "" {
		return ReversalSummary{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput, "actor is required")
	}
	if _, err := e.quarters.Resolve(quarterKey); err != nil {
		return ReversalSummary{}, err
	}

	release, err := e.locker.Acquire(ctx, bank.BatchLockKey(productCode, quarterKey))
	if err != nil {
		return ReversalSummary{}, err
	}
	defer release()

	batch, err := e.reversibleBatch(ctx, productCode, quarterKey)
	if err != nil {
		return ReversalSummary{}, err
	}

	summary := ReversalSummary{TotalReversed: decimal.Zero}
	err = e.store.WithTx(ctx, func(tx bank.Store) error {
		summary.EntryCount, summary.TotalReversed = 0, decimal.Zero
		entries, err := tx.EntriesForBatch(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("load batch entries: %w", err)
		}
		poster := bank.NewPoster(tx, e.logger).WithNow(e.now)
		for _, entry := range entries {
			if entry.Kind != bank.EntryInterestCredit {
				continue
			}
			if _, _, err := poster.Post(ctx, bank.Posting{
				AccountID:   entry.AccountID,
				Kind:        bank.EntryInterestReversal,
				Amount:      entry.Amount,
				Narration:   fmt.Sprintf("Reversal of interest %s (batch %s)", quarterKey, batch.ID),
				EffectiveAt: batch.PeriodEnd,
				Actor:       actor,
				BatchID:     batch.ID,
			}); err != nil {
				if errors.Is(err, bank.ErrInsufficientFunds) {
					return bank.Errorf(bank.ErrStateConflict, bank.CodeInsufficientFunds,
						"cannot reverse batch %s: account %s no longer holds %s", batch.ID, entry.AccountID, entry.Amount.StringFixed(2))
				}
				return err
			}
			summary.EntryCount++
			summary.TotalReversed = summary.TotalReversed.Add(entry.Amount)
		}
		return tx.MarkBatchReversed(ctx, batch.ID, e.now(), actor)
	})
	if err != nil {
		return ReversalSummary{}, err
	}

	reversed, err := e.store.GetBatch(ctx, batch.ID)
	if err != nil {
		return ReversalSummary{}, err
	}
	summary.Batch = *reversed

	e.logger.Info("interest batch reversed",
		slog.String("product", productCode),
		slog.String("quarter", quarterKey),
		slog.String("batch_id", batch.ID),
		slog.Int("entries", summary.EntryCount),
		slog.String("total", summary.TotalReversed.StringFixed(2)),
		slog.String("actor", actor))
	e.metrics.BatchReversed(productCode, summary.TotalReversed)
	return summary, nil
}

// reversibleBatch distinguishes "nothing posted" from "already reversed".
func (e *Engine) reversibleBatch(ctx context.Context, productCode, quarterKey string) (*bank.InterestBatch, error) {
	batch, err := e.store.GetActiveBatch(ctx, productCode, quarterKey)
	if err == nil {
		return batch, nil
	}
	if !bank.IsNotFound(err) {
		return nil, err
	}
	latest, err := e.store.LatestBatch(ctx, productCode, quarterKey)
	if err == nil && latest.Reversed {
		return nil, &bank.Error{
			Kind:    bank.ErrStateConflict,
			Code:    bank.CodeBatchAlreadyReversed,
			Message: fmt.Sprintf("batch %s for %s %s is already reversed", latest.ID, productCode, quarterKey),
		}
	}
	if err != nil && !bank.IsNotFound(err) {
		return nil, err
	}
	return nil, &bank.Error{
		Kind:    bank.ErrNotFound,
		Code:    bank.CodeBatchNotFound,
		Message: fmt.Sprintf("no interest batch for %s %s", productCode, quarterKey),
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// ListBatches returns batches newest first; an empty product lists all.
func (e *Engine) ListBatches(ctx context.Context, productCode string) ([]bank.InterestBatch, error) {
	return e.store.ListBatches(ctx, productCode)
}

func (e *Engine) GetBatch(ctx context.Context, id string) (*bank.InterestBatch, error) {
	return e.store.GetBatch(ctx, id)
}
