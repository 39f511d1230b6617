// Package reporting builds read-only summaries over the wallet ledger.
package reporting

import (
	"context"
	"errors"
	"strings"

	"glovendor/internal/rbac"
	"glovendor/internal/wallet"

	"github.com/shopspring/decimal"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

const (
	refundPrefix = "RFD-"
	adminPrefix  = "ADM-"
)

// LedgerReader is the ledger history source; wallet.Service satisfies it.
// Activity returns every row, stubs included, newest first.
type LedgerReader interface {
	Activity(ctx context.Context, caller wallet.Caller) ([]wallet.Transaction, error)
}

type Service struct {
	ledger LedgerReader
}

func NewService(ledger LedgerReader) *Service { return &Service{ledger: ledger} }

func (s *Service) WalletSummary(ctx context.Context, req SummaryRequest) (WalletSummary, error) {
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return WalletSummary{}, ErrInvalidRequest
	}
	if s.ledger == nil {
		return WalletSummary{}, errors.New("reporting: ledger not configured")
	}

	admin := rbac.IsAdmin(req.CallerRole)
	accountID := req.AccountID
	if !admin {
		if req.CallerID <= 0 {
			return WalletSummary{}, ErrInvalidRequest
		}
		if accountID != 0 && accountID != req.CallerID {
			return WalletSummary{}, wallet.ErrForbidden
		}
		accountID = req.CallerID
	}

	rows, err := s.ledger.Activity(ctx, wallet.Caller{AccountID: req.CallerID, Role: req.CallerRole})
	if err != nil {
		return WalletSummary{}, err
	}

	out := WalletSummary{
		AccountID:    accountID,
		Range:        req.Range,
		Funded:       decimal.Zero,
		Refunded:     decimal.Zero,
		AdminCredits: decimal.Zero,
		Debited:      decimal.Zero,
	}
	for _, t := range rows {
		if accountID != 0 && t.AccountID != accountID {
			continue
		}
		if !req.Range.contains(t.CreatedAt) {
			continue
		}
		switch t.Status {
		case wallet.StatusPending:
			out.PendingCount++
			continue
		case wallet.StatusFailed:
			out.FailedCount++
			continue
		}

		if accountID != 0 && out.Balance == nil {
			b := t.BalanceAfter
			out.Balance = &b
		}
		if t.Kind == wallet.TxDebit {
			out.DebitCount++
			out.Debited = out.Debited.Add(t.Amount)
			continue
		}
		out.FundingCount++
		switch {
		case strings.HasPrefix(t.Reference, refundPrefix):
			out.Refunded = out.Refunded.Add(t.Amount)
		case strings.HasPrefix(t.Reference, adminPrefix):
			out.AdminCredits = out.AdminCredits.Add(t.Amount)
		default:
			out.Funded = out.Funded.Add(t.Amount)
		}
	}
	out.Net = wallet.Round2(out.Funded.Add(out.Refunded).Add(out.AdminCredits).Sub(out.Debited))
	return out, nil
}
