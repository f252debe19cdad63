package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletService_CreditDebit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.seedPartner(t, "ravi@example.com", "9876500001", nil)
	walletID := p.Wallet.ID

	t.Run("入账追加流水", func(t *testing.T) {
		txn, err := e.wallets.Credit(ctx, nil, walletID, dec("250.50"), model.TxnTypeTopUp, "top up")
		require.NoError(t, err)
		assert.True(t, txn.Amount.Equal(dec("250.50")))
		assert.True(t, txn.BalanceBefore.IsZero())
		assert.True(t, txn.BalanceAfter.Equal(dec("250.50")))
		assert.True(t, e.wallet(t, walletID).Balance.Equal(dec("250.50")))
	})

	t.Run("出账金额为负", func(t *testing.T) {
		txn, err := e.wallets.Debit(ctx, nil, walletID, dec("50.50"), model.TxnTypeServicePayment, "pay")
		require.NoError(t, err)
		assert.True(t, txn.Amount.Equal(dec("-50.50")))
		assert.True(t, e.wallet(t, walletID).Balance.Equal(dec("200")))
	})

	t.Run("余额不足时余额和流水都不变", func(t *testing.T) {
		before := len(e.txns(t, walletID))
		_, err := e.wallets.Debit(ctx, nil, walletID, dec("200.01"), model.TxnTypeServicePayment, "pay")
		assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
		assert.True(t, e.wallet(t, walletID).Balance.Equal(dec("200")))
		assert.Len(t, e.txns(t, walletID), before)
	})

	t.Run("金额必须为正", func(t *testing.T) {
		_, err := e.wallets.Credit(ctx, nil, walletID, dec("0"), model.TxnTypeTopUp, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
		_, err = e.wallets.Debit(ctx, nil, walletID, dec("-1"), model.TxnTypeTopUp, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
	})

	t.Run("流水余额首尾相接", func(t *testing.T) {
		list := e.txns(t, walletID)
		require.NotEmpty(t, list)
		for i := 1; i < len(list); i++ {
			assert.True(t, list[i].BalanceBefore.Equal(list[i-1].BalanceAfter), "txn %d", i)
		}
		for _, txn := range list {
			assert.True(t, txn.BalanceAfter.Equal(txn.BalanceBefore.Add(txn.Amount)))
		}
	})

	t.Run("钱包不存在", func(t *testing.T) {
		_, err := e.wallets.Credit(ctx, nil, 9999, dec("1"), model.TxnTypeTopUp, "")
		assert.Error(t, err)
	})
}

func TestWalletService_AdminSetBalance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.seedPartner(t, "ravi@example.com", "9876500001", nil)

	exp := time.Now().Add(48 * time.Hour)
	w, err := e.wallets.AdminSetBalance(ctx, p.Wallet.ID, dec("300"), &exp, "admin@example.com")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("300")))
	require.NotNil(t, w.BalanceExpiresAt)

	_, err = e.wallets.AdminSetBalance(ctx, p.Wallet.ID, dec("120"), nil, "admin@example.com")
	require.NoError(t, err)

	// 余额不变时不记流水
	_, err = e.wallets.AdminSetBalance(ctx, p.Wallet.ID, dec("120"), nil, "admin@example.com")
	require.NoError(t, err)

	list := e.txns(t, p.Wallet.ID)
	require.Len(t, list, 2)
	assert.Equal(t, model.TxnTypeAdminAdjustment, list[0].Type)
	assert.True(t, list[0].Amount.Equal(dec("300")))
	assert.True(t, list[1].Amount.Equal(dec("-180")))
	assert.Nil(t, e.wallet(t, p.Wallet.ID).BalanceExpiresAt)

	_, err = e.wallets.AdminSetBalance(ctx, p.Wallet.ID, dec("-1"), nil, "admin@example.com")
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
}

func TestSubscriptionService_WalletCreditPlan(t *testing.T) {
	e := newEnv(t)
	plan := e.seedPlan(t, "Credit 30", model.PlanTypeWalletCredit, "1000", intPtr(30))

	p := e.seedPartner(t, "ravi@example.com", "9876500001", plan)

	require.NotNil(t, p.Subscription)
	assert.True(t, p.Subscription.IsActive)
	require.NotNil(t, p.Subscription.EndDate)

	w := e.wallet(t, p.Wallet.ID)
	assert.True(t, w.Balance.Equal(dec("1000")))
	require.NotNil(t, w.BalanceExpiresAt)
	assert.WithinDuration(t, *p.Subscription.EndDate, *w.BalanceExpiresAt, time.Second)

	list := e.txns(t, p.Wallet.ID)
	require.Len(t, list, 1)
	assert.Equal(t, model.TxnTypeInitialCredit, list[0].Type)
	assert.Contains(t, list[0].Details, "Credit 30")
}

func TestSubscriptionService_LifetimePlanNoCredit(t *testing.T) {
	e := newEnv(t)
	plan := e.seedPlan(t, "Lifetime", model.PlanTypeLifetime, "5000", nil)

	p := e.seedPartner(t, "ravi@example.com", "9876500001", plan)

	require.NotNil(t, p.Subscription)
	assert.Nil(t, p.Subscription.EndDate)
	assert.True(t, e.wallet(t, p.Wallet.ID).Balance.IsZero())
	assert.Empty(t, e.txns(t, p.Wallet.ID))
}

func TestWalletService_ExpireBalances(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	credit := e.seedPlan(t, "Credit 30", model.PlanTypeWalletCredit, "1000", intPtr(30))
	sub := e.seedPlan(t, "Monthly", model.PlanTypeSubscription, "99", intPtr(30))

	expired := e.seedPartner(t, "a@example.com", "9876500001", credit)
	fresh := e.seedPartner(t, "b@example.com", "9876500002", credit)
	monthly := e.seedPartner(t, "c@example.com", "9876500003", sub)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, e.db.Model(&model.Wallet{}).Where("id = ?", expired.Wallet.ID).
		Update("balance_expires_at", past).Error)
	require.NoError(t, e.db.Model(&model.PartnerSubscription{}).Where("id = ?", monthly.Subscription.ID).
		Update("end_date", past).Error)

	report, err := e.wallets.ExpireBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.WalletsExpired)
	assert.Zero(t, report.WalletsFailed)
	assert.EqualValues(t, 1, report.SubscriptionsDeactivated)

	w := e.wallet(t, expired.Wallet.ID)
	assert.True(t, w.Balance.IsZero())
	assert.Nil(t, w.BalanceExpiresAt)

	list := e.txns(t, expired.Wallet.ID)
	require.Len(t, list, 2)
	assert.Equal(t, model.TxnTypeExpiry, list[1].Type)
	assert.True(t, list[1].Amount.Equal(dec("-1000")))

	var s model.PartnerSubscription
	require.NoError(t, e.db.First(&s, expired.Subscription.ID).Error)
	assert.False(t, s.IsActive)

	assert.True(t, e.wallet(t, fresh.Wallet.ID).Balance.Equal(dec("1000")))
	assert.EqualValues(t, 1, e.outboxCount(t, model.EventWalletExpired))

	t.Run("重复执行不再产生流水", func(t *testing.T) {
		report, err := e.wallets.ExpireBalances(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.WalletsExpired)
		assert.Zero(t, report.SubscriptionsDeactivated)
		assert.Len(t, e.txns(t, expired.Wallet.ID), 2)
	})
}

func TestWalletService_ConcurrentDebit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.seedPartner(t, "ravi@example.com", "9876500001", nil)
	walletID := p.Wallet.ID
	e.setBalance(t, walletID, "100")
	before := len(e.txns(t, walletID))

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.wallets.Debit(ctx, nil, walletID, dec("80"), model.TxnTypeServicePayment, fmt.Sprintf("pay %d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrInsufficientFunds):
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.True(t, e.wallet(t, walletID).Balance.Equal(dec("20")))
	assert.Len(t, e.txns(t, walletID), before+1)
}

func TestWalletService_ExpireBalancesAcrossBatches(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.wallets.batchSize = 2
	credit := e.seedPlan(t, "Credit 30", model.PlanTypeWalletCredit, "1000", intPtr(30))

	var wallets []int64
	for i := 0; i < 3; i++ {
		p := e.seedPartner(t, fmt.Sprintf("p%d@example.com", i), fmt.Sprintf("987650000%d", i), credit)
		wallets = append(wallets, p.Wallet.ID)
	}
	require.NoError(t, e.db.Model(&model.Wallet{}).Where("id IN ?", wallets).
		Update("balance_expires_at", time.Now().Add(-time.Hour)).Error)

	report, err := e.wallets.ExpireBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.WalletsExpired)
	assert.Zero(t, report.WalletsFailed)
	for _, id := range wallets {
		assert.True(t, e.wallet(t, id).Balance.IsZero(), "wallet %d", id)
	}
	assert.EqualValues(t, 3, e.outboxCount(t, model.EventWalletExpired))
}
