package market

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// credit adds amount to the owner's balance. Exceeding the amount range is
// fatal and never wraps.
func (m *Market) credit(owner model.Address, amount decimal.Decimal) error {
	bal := m.GetProceeds(owner).Add(amount)
	if bal.GreaterThan(model.MaxAmount) {
		m.logger.Error("market.proceeds_overflow",
			zap.String("owner", owner.String()),
			zap.String("amount", amount.String()))
		return ErrProceedsOverflow
	}
	m.setBalance(owner, bal)
	return nil
}

// WithdrawProceeds pays out the caller's entire balance and returns the
// amount sent. The balance is zeroed before the payout; a failed payout
// restores it.
func (m *Market) WithdrawProceeds(ctx context.Context, caller model.Address) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := m.run(ctx, "withdraw_proceeds", func() error {
		bal := m.GetProceeds(caller)
		if !bal.IsPositive() {
			return ErrNoProceeds
		}

		m.setBalance(caller, decimal.Zero)

		if err := m.payouts.Send(ctx, caller, bal); err != nil {
			m.logger.Warn("market.payout_failed",
				zap.String("owner", caller.String()),
				zap.String("amount", bal.String()),
				zap.Error(err))
			return fmt.Errorf("payout to %s: %w", caller, err)
		}

		m.journal.emit(model.MarketEvent{
			Type:       model.EventProceedsWithdrawn,
			Owner:      caller,
			Price:      bal,
			OccurredAt: m.now(),
		})
		amount = bal
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
