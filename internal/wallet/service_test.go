package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"glovendor/internal/rbac"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// tickingClock advances one second per call so postings never tie.
func tickingClock() func() time.Time {
	var n int64
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Second)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, value.(Event))
	return p.err
}

type recordingAuditor struct{ refs []string }

func (a *recordingAuditor) AdminCredit(ctx context.Context, adminID int64, adminRole string, accountID int64, reference, amount, reason string) {
	a.refs = append(a.refs, reference)
}

func newTestService(t *testing.T, opts ...Option) (*Service, Account) {
	t.Helper()
	opts = append([]Option{WithClock(tickingClock())}, opts...)
	svc := NewService(NewMemoryStore(), opts...)
	a, err := svc.OpenAccount(context.Background(), KindCustomer, "c@glo.test", 0)
	require.NoError(t, err)
	return svc, a
}

func TestCredit_PostsFundingAndUpdatesBalance(t *testing.T) {
	pub := &recordingPublisher{}
	svc, a := newTestService(t, WithPublisher(pub))
	ctx := context.Background()

	tx, err := svc.Credit(ctx, a.ID, d("1200"), "wallet funding", "PSK-1")
	require.NoError(t, err)
	assert.Equal(t, TxFunding, tx.Kind)
	assert.Equal(t, StatusSuccess, tx.Status)
	assert.True(t, tx.BalanceBefore.IsZero())
	assert.Equal(t, "1200.00", tx.BalanceAfter.StringFixed(2))

	bal, err := svc.CurrentBalance(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("1200")))
	require.Len(t, pub.events, 1)
	assert.Equal(t, EventTransactionPosted, pub.events[0].Type)
}

func TestCredit_IdempotentOnReference(t *testing.T) {
	pub := &recordingPublisher{}
	svc, a := newTestService(t, WithPublisher(pub))
	ctx := context.Background()

	first, err := svc.Credit(ctx, a.ID, d("500"), "wallet funding", "PSK-2")
	require.NoError(t, err)
	again, err := svc.Credit(ctx, a.ID, d("500"), "wallet funding", "PSK-2")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	bal, _ := svc.CurrentBalance(ctx, a.ID)
	assert.Equal(t, "500.00", bal.StringFixed(2))
	assert.Len(t, pub.events, 1)
}

func TestCredit_ConcurrentSameReferencePostsOnce(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, a.ID, d("100"), "wallet funding", "PSK-race")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, _ := svc.CurrentBalance(ctx, a.ID)
	assert.Equal(t, "100.00", bal.StringFixed(2))
}

func TestCredit_ReferenceBoundToOtherAccount(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()
	other, err := svc.OpenAccount(ctx, KindCustomer, "o@glo.test", 0)
	require.NoError(t, err)

	_, err = svc.Credit(ctx, a.ID, d("10"), "x", "REF")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, other.ID, d("10"), "x", "REF")
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestCredit_RejectsInvalidInput(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, a.ID, d("0"), "x", "R1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Credit(ctx, a.ID, d("-5"), "x", "R1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Credit(ctx, a.ID, d("0.004"), "x", "R1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Credit(ctx, a.ID, d("10"), "x", " ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.Credit(ctx, 999, d("10"), "x", "R1")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, a.ID, d("50"), "wallet funding", "PSK-3")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, a.ID, d("50.01"), "plan purchase")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	tx, err := svc.Debit(ctx, a.ID, d("50"), "plan purchase")
	require.NoError(t, err)
	assert.Equal(t, TxDebit, tx.Kind)
	assert.Contains(t, tx.Reference, "DBT-")
	assert.True(t, tx.BalanceAfter.IsZero())
}

func TestDebit_InactiveAccount(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()
	_, err := svc.Credit(ctx, a.ID, d("50"), "wallet funding", "PSK-4")
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, a.ID))

	_, err = svc.Debit(ctx, a.ID, d("10"), "plan purchase")
	assert.ErrorIs(t, err, ErrAccountInactive)

	_, err = svc.Credit(ctx, a.ID, d("10"), "wallet funding", "PSK-5")
	assert.NoError(t, err)
}

func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()
	_, err := svc.Credit(ctx, a.ID, d("250"), "wallet funding", "PSK-6")
	require.NoError(t, err)

	var ok, short int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, a.ID, d("10"), "plan purchase")
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, ErrInsufficientFunds):
				atomic.AddInt64(&short, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 25, ok)
	assert.EqualValues(t, 75, short)
	bal, _ := svc.CurrentBalance(ctx, a.ID)
	assert.True(t, bal.IsZero())
}

func TestPendingStub_PostedByCredit(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()

	stub, err := svc.RecordPending(ctx, a.ID, d("1000"), "wallet funding", "PSK-7")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stub.Status)
	assert.True(t, stub.BalanceAfter.IsZero())

	bal, _ := svc.CurrentBalance(ctx, a.ID)
	assert.True(t, bal.IsZero())

	posted, err := svc.Credit(ctx, a.ID, d("1000"), "wallet funding", "PSK-7")
	require.NoError(t, err)
	assert.Equal(t, stub.ID, posted.ID)
	assert.Equal(t, StatusSuccess, posted.Status)
	assert.Equal(t, stub.InitiatedAt, posted.InitiatedAt)
	assert.True(t, posted.CreatedAt.After(stub.InitiatedAt))
	assert.Equal(t, "1000.00", posted.BalanceAfter.StringFixed(2))

	_, err = svc.Credit(ctx, a.ID, d("999"), "wallet funding", "PSK-7")
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestPendingStub_FailedCannotBePosted(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordPending(ctx, a.ID, d("300"), "wallet funding", "PSK-8")
	require.NoError(t, err)
	failed, err := svc.FailPending(ctx, "PSK-8")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)

	_, err = svc.Credit(ctx, a.ID, d("300"), "wallet funding", "PSK-8")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	again, err := svc.FailPending(ctx, "PSK-8")
	require.NoError(t, err)
	assert.Equal(t, failed.ID, again.ID)

	bal, _ := svc.CurrentBalance(ctx, a.ID)
	assert.True(t, bal.IsZero())
}

func TestFailPending_PostedIsRejected(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()
	_, err := svc.Credit(ctx, a.ID, d("300"), "wallet funding", "PSK-9")
	require.NoError(t, err)

	_, err = svc.FailPending(ctx, "PSK-9")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = svc.FailPending(ctx, "missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestHistory_ScopedAndOrdered(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()
	other, err := svc.OpenAccount(ctx, KindCustomer, "o@glo.test", 0)
	require.NoError(t, err)

	_, err = svc.Credit(ctx, a.ID, d("100"), "f", "A-1")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, other.ID, d("100"), "f", "B-1")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, a.ID, d("30"), "p")
	require.NoError(t, err)

	mine, err := svc.History(ctx, Caller{AccountID: a.ID, Role: rbac.RoleCustomer})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, TxDebit, mine[0].Kind)
	assert.Equal(t, "A-1", mine[1].Reference)

	all, err := svc.History(ctx, Caller{AccountID: 99, Role: rbac.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = svc.History(ctx, Caller{Role: rbac.RoleCustomer})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestChainInvariant(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, a.ID, d("500"), "f", "C-1")
	require.NoError(t, err)
	_, err = svc.RecordPending(ctx, a.ID, d("200"), "f", "C-2")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, a.ID, d("120.50"), "p")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, a.ID, d("200"), "f", "C-2")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, a.ID, d("79.50"), "p")
	require.NoError(t, err)

	hist, err := svc.History(ctx, Caller{AccountID: a.ID, Role: rbac.RoleCustomer})
	require.NoError(t, err)

	var posted []Transaction
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Posted() {
			posted = append(posted, hist[i])
		}
	}
	require.Len(t, posted, 4)
	for i := 1; i < len(posted); i++ {
		assert.True(t, posted[i].BalanceBefore.Equal(posted[i-1].BalanceAfter), "break at %d", i)
	}
	bal, _ := svc.CurrentBalance(ctx, a.ID)
	assert.True(t, bal.Equal(posted[len(posted)-1].BalanceAfter))
	assert.Equal(t, "500.00", bal.StringFixed(2))
}

// assertHistoryChains walks History in the order it is returned.
func assertHistoryChains(t *testing.T, svc *Service, accountID int64) []Transaction {
	t.Helper()
	ctx := context.Background()
	hist, err := svc.History(ctx, Caller{AccountID: accountID, Role: rbac.RoleCustomer})
	require.NoError(t, err)
	require.NotEmpty(t, hist)

	bal, err := svc.CurrentBalance(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, hist[0].BalanceAfter.Equal(bal), "newest %s, balance %s", hist[0].BalanceAfter, bal)
	for i := 0; i+1 < len(hist); i++ {
		require.True(t, hist[i].CreatedAt.After(hist[i+1].CreatedAt), "tie at %d", i)
		require.True(t, hist[i].BalanceBefore.Equal(hist[i+1].BalanceAfter), "break at %d", i)
	}
	assert.True(t, hist[len(hist)-1].BalanceBefore.IsZero())
	return hist
}

func TestHistory_ConcurrentPostingsFollowChain(t *testing.T) {
	for round := 0; round < 20; round++ {
		svc, a := newTestService(t)
		ctx := context.Background()
		_, err := svc.Credit(ctx, a.ID, d("1000"), "f", "H-0")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%5 == 0 {
					_, _ = svc.Credit(ctx, a.ID, d("5"), "f", fmt.Sprintf("H-%d", i+1))
					return
				}
				_, _ = svc.Debit(ctx, a.ID, d("10"), "p")
			}(i)
		}
		wg.Wait()

		hist := assertHistoryChains(t, svc, a.ID)
		require.Len(t, hist, 101)
	}
}

func TestHistory_StalledClockKeepsOrder(t *testing.T) {
	stuck := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, a := newTestService(t, WithClock(func() time.Time { return stuck }))
	ctx := context.Background()

	_, err := svc.Credit(ctx, a.ID, d("100"), "f", "S-1")
	require.NoError(t, err)
	_, err = svc.RecordPending(ctx, a.ID, d("40"), "f", "S-2")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, a.ID, d("10"), "p")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, a.ID, d("40"), "f", "S-2")
	require.NoError(t, err)
	last, err := svc.Debit(ctx, a.ID, d("20"), "p")
	require.NoError(t, err)

	hist := assertHistoryChains(t, svc, a.ID)
	require.Len(t, hist, 4)
	assert.Equal(t, last.ID, hist[0].ID)
	assert.Equal(t, "S-2", hist[1].Reference)
	assert.Equal(t, "110.00", hist[0].BalanceAfter.StringFixed(2))
}

func TestActivity_IncludesStubs(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, a.ID, d("100"), "f", "A-1")
	require.NoError(t, err)
	_, err = svc.RecordPending(ctx, a.ID, d("50"), "f", "A-2")
	require.NoError(t, err)
	_, err = svc.RecordPending(ctx, a.ID, d("60"), "f", "A-3")
	require.NoError(t, err)
	_, err = svc.FailPending(ctx, "A-3")
	require.NoError(t, err)

	caller := Caller{AccountID: a.ID, Role: rbac.RoleCustomer}
	all, err := svc.Activity(ctx, caller)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	hist, err := svc.History(ctx, caller)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "A-1", hist[0].Reference)
}

func TestAdminManualCredit(t *testing.T) {
	aud := &recordingAuditor{}
	svc, a := newTestService(t, WithAuditor(aud))
	ctx := context.Background()

	_, err := svc.AdminManualCredit(ctx, AdminCreditRequest{AdminID: 1, AdminRole: rbac.RoleSubvendor, AccountID: a.ID, Amount: d("10"), Reason: "r", IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrForbidden)

	req := AdminCreditRequest{AdminID: 1, AdminRole: rbac.RoleAdmin, AccountID: a.ID, Amount: d("75"), Reason: "late settlement", IdempotencyKey: "k1"}
	tx, err := svc.AdminManualCredit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "ADM-k1", tx.Reference)

	_, err = svc.AdminManualCredit(ctx, req)
	require.NoError(t, err)
	bal, _ := svc.CurrentBalance(ctx, a.ID)
	assert.Equal(t, "75.00", bal.StringFixed(2))
	assert.Equal(t, []string{"ADM-k1", "ADM-k1"}, aud.refs)
}

func TestOpenAccount_RetailerNeedsSubvendor(t *testing.T) {
	svc, customer := newTestService(t)
	ctx := context.Background()

	_, err := svc.OpenAccount(ctx, KindRetailer, "r@glo.test", customer.ID)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	sub, err := svc.OpenAccount(ctx, KindSubvendor, "s@glo.test", 0)
	require.NoError(t, err)
	r, err := svc.OpenAccount(ctx, KindRetailer, "r@glo.test", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, r.SupplierID)

	_, err = svc.OpenAccount(ctx, KindCustomer, "R@glo.test", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.OpenAccount(ctx, "VENDOR", "x@glo.test", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPublishFailureDoesNotFailPosting(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, a := newTestService(t, WithPublisher(pub))

	_, err := svc.Credit(context.Background(), a.ID, d("10"), "f", "P-1")
	assert.NoError(t, err)
}
