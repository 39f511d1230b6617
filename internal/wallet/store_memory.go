package wallet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store for tests and local runs.
// One mutex serializes every mutation, so the reference lookup and the
// balance update of a posting are a single critical section.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[int64]Account
	emails   map[string]int64
	txs      []Transaction
	byRef    map[string]int
	nextAcct int64

	// newest posted CreatedAt per account
	lastPosted map[int64]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]Account),
		emails:   make(map[string]int64),
		byRef:    make(map[string]int),

		lastPosted: make(map[int64]time.Time),
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, a Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(a.Email)
	if _, ok := s.emails[key]; ok {
		return Account{}, fmt.Errorf("email %q: %w", a.Email, ErrInvalidArgument)
	}
	s.nextAcct++
	a.ID = s.nextAcct
	a.Balance = decimal.Zero
	s.accounts[a.ID] = a
	s.emails[key] = a.ID
	return a, nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id int64) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

// AccountByEmail backs the directory when running without Postgres.
func (s *MemoryStore) AccountByEmail(ctx context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return s.accounts[id], nil
}

func (s *MemoryStore) SetActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Active = active
	s.accounts[id] = a
	return nil
}

func (s *MemoryStore) PostCredit(ctx context.Context, p Posting) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[p.AccountID]
	if !ok {
		return Transaction{}, false, ErrAccountNotFound
	}

	if idx, ok := s.byRef[p.Reference]; ok {
		existing := s.txs[idx]
		switch {
		case !matchesStub(existing, p):
			return Transaction{}, false, fmt.Errorf("reference %q bound to another posting: %w", p.Reference, ErrDuplicateReference)
		case existing.Status == StatusSuccess:
			return existing, false, nil
		case existing.Status == StatusFailed:
			return Transaction{}, false, fmt.Errorf("reference %q: %w", p.Reference, ErrInvalidStateTransition)
		}
		existing.BalanceBefore = a.Balance
		existing.BalanceAfter = a.Balance.Add(p.Amount)
		existing.Status = StatusSuccess
		existing.CreatedAt = s.stampLocked(p)
		s.txs[idx] = existing
		a.Balance = existing.BalanceAfter
		s.accounts[a.ID] = a
		return existing, true, nil
	}

	at := s.stampLocked(p)
	t := s.appendTx(Transaction{
		AccountID:     a.ID,
		Kind:          TxFunding,
		Amount:        p.Amount,
		BalanceBefore: a.Balance,
		BalanceAfter:  a.Balance.Add(p.Amount),
		Reference:     p.Reference,
		Status:        StatusSuccess,
		Purpose:       p.Purpose,
		InitiatedAt:   at,
		CreatedAt:     at,
	})
	a.Balance = t.BalanceAfter
	s.accounts[a.ID] = a
	return t, true, nil
}

func (s *MemoryStore) PostDebit(ctx context.Context, p Posting) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[p.AccountID]
	if !ok {
		return Transaction{}, ErrAccountNotFound
	}
	if _, dup := s.byRef[p.Reference]; dup {
		return Transaction{}, ErrDuplicateReference
	}
	if a.Balance.LessThan(p.Amount) {
		return Transaction{}, ErrInsufficientFunds
	}

	at := s.stampLocked(p)
	t := s.appendTx(Transaction{
		AccountID:     a.ID,
		Kind:          TxDebit,
		Amount:        p.Amount,
		BalanceBefore: a.Balance,
		BalanceAfter:  a.Balance.Sub(p.Amount),
		Reference:     p.Reference,
		Status:        StatusSuccess,
		Purpose:       p.Purpose,
		InitiatedAt:   at,
		CreatedAt:     at,
	})
	a.Balance = t.BalanceAfter
	s.accounts[a.ID] = a
	return t, nil
}

func (s *MemoryStore) InsertPending(ctx context.Context, p Posting) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[p.AccountID]; !ok {
		return Transaction{}, ErrAccountNotFound
	}
	if idx, ok := s.byRef[p.Reference]; ok {
		existing := s.txs[idx]
		if existing.Status == StatusPending && matchesStub(existing, p) {
			return existing, nil
		}
		return Transaction{}, ErrDuplicateReference
	}

	at := p.stamp(time.Time{})
	return s.appendTx(Transaction{
		AccountID:     p.AccountID,
		Kind:          TxFunding,
		Amount:        p.Amount,
		BalanceBefore: decimal.Zero,
		BalanceAfter:  decimal.Zero,
		Reference:     p.Reference,
		Status:        StatusPending,
		Purpose:       p.Purpose,
		InitiatedAt:   at,
		CreatedAt:     at,
	}), nil
}

func (s *MemoryStore) FailPending(ctx context.Context, reference string, at time.Time) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byRef[reference]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	t := s.txs[idx]
	switch t.Status {
	case StatusFailed:
		return t, nil
	case StatusSuccess:
		return Transaction{}, fmt.Errorf("reference %q already posted: %w", reference, ErrInvalidStateTransition)
	}
	t.Status = StatusFailed
	s.txs[idx] = t
	return t, nil
}

func (s *MemoryStore) FindByReference(ctx context.Context, reference string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byRef[reference]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.txs[idx], nil
}

func (s *MemoryStore) ListByAccount(ctx context.Context, accountID int64) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, t := range s.txs {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, len(s.txs))
	copy(out, s.txs)
	sortNewestFirst(out)
	return out, nil
}

// stampLocked must be called with mu held, right before p is posted.
func (s *MemoryStore) stampLocked(p Posting) time.Time {
	at := p.stamp(s.lastPosted[p.AccountID])
	s.lastPosted[p.AccountID] = at
	return at
}

// appendTx must be called with mu held.
func (s *MemoryStore) appendTx(t Transaction) Transaction {
	t.ID = int64(len(s.txs) + 1)
	s.txs = append(s.txs, t)
	s.byRef[t.Reference] = len(s.txs) - 1
	return t
}

func sortNewestFirst(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].ID < txs[j].ID
	})
}
