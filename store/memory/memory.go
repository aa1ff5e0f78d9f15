// Package memory provides an in-memory deposit.TxStore.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store keeps everything in maps. Values are copied in and out so callers
// can never mutate stored state without going through a write method.
type Store struct {
	mu sync.RWMutex
	state
}

type state struct {
	accounts     map[generic.AccountID]deposit.Account
	installments map[generic.AccountID][]deposit.ScheduleInstallment
	transactions map[generic.AccountID][]generic.Transaction
	txIndex      map[generic.TransactionID]generic.AccountID
	chargeTypes  map[chargeTypeKey]deposit.ChargeType
	charges      map[deposit.ChargeID]deposit.Charge
	penalties    map[deposit.PenaltyID]deposit.PenaltyHistory
	penaltyOrder []deposit.PenaltyID
	closures     []deposit.PrematureClosureHistory
	seq          int
}

type chargeTypeKey struct {
	name     string
	currency string
}

func New() *Store {
	return &Store{state: newState()}
}

func newState() state {
	return state{
		accounts:     make(map[generic.AccountID]deposit.Account),
		installments: make(map[generic.AccountID][]deposit.ScheduleInstallment),
		transactions: make(map[generic.AccountID][]generic.Transaction),
		txIndex:      make(map[generic.TransactionID]generic.AccountID),
		chargeTypes:  make(map[chargeTypeKey]deposit.ChargeType),
		charges:      make(map[deposit.ChargeID]deposit.Charge),
		penalties:    make(map[deposit.PenaltyID]deposit.PenaltyHistory),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are fully serialized, which also serializes per-account work.
func (m *Store) WithTx(ctx context.Context, fn func(deposit.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&view{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := state{
		accounts:     make(map[generic.AccountID]deposit.Account, len(s.accounts)),
		installments: make(map[generic.AccountID][]deposit.ScheduleInstallment, len(s.installments)),
		transactions: make(map[generic.AccountID][]generic.Transaction, len(s.transactions)),
		txIndex:      make(map[generic.TransactionID]generic.AccountID, len(s.txIndex)),
		chargeTypes:  make(map[chargeTypeKey]deposit.ChargeType, len(s.chargeTypes)),
		charges:      make(map[deposit.ChargeID]deposit.Charge, len(s.charges)),
		penalties:    make(map[deposit.PenaltyID]deposit.PenaltyHistory, len(s.penalties)),
		penaltyOrder: append([]deposit.PenaltyID(nil), s.penaltyOrder...),
		closures:     append([]deposit.PrematureClosureHistory(nil), s.closures...),
		seq:          s.seq,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.installments {
		c.installments[k] = append([]deposit.ScheduleInstallment(nil), v...)
	}
	for k, v := range s.transactions {
		c.transactions[k] = append([]generic.Transaction(nil), v...)
	}
	for k, v := range s.txIndex {
		c.txIndex[k] = v
	}
	for k, v := range s.chargeTypes {
		c.chargeTypes[k] = v
	}
	for k, v := range s.charges {
		c.charges[k] = v
	}
	for k, v := range s.penalties {
		c.penalties[k] = v
	}
	return c
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS - each call is its own unit of work
// =============================================================================

func (m *Store) read(fn func(*state) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&m.state)
}

func (m *Store) write(ctx context.Context, fn func(deposit.Store) error) error {
	return m.WithTx(ctx, fn)
}

func (m *Store) CreateAccount(ctx context.Context, acc *deposit.Account) error {
	return m.write(ctx, func(st deposit.Store) error { return st.CreateAccount(ctx, acc) })
}

func (m *Store) GetAccount(_ context.Context, id generic.AccountID) (acc *deposit.Account, err error) {
	err = m.read(func(s *state) error {
		acc, err = s.getAccount(id)
		return err
	})
	return acc, err
}

func (m *Store) LockAccount(ctx context.Context, id generic.AccountID) (*deposit.Account, error) {
	return m.GetAccount(ctx, id)
}

func (m *Store) UpdateAccount(ctx context.Context, acc *deposit.Account) error {
	return m.write(ctx, func(st deposit.Store) error { return st.UpdateAccount(ctx, acc) })
}

func (m *Store) ListAccountsByStatus(_ context.Context, status deposit.Status) (out []*deposit.Account, err error) {
	err = m.read(func(s *state) error {
		out = s.listAccounts(status)
		return nil
	})
	return out, err
}

func (m *Store) SaveInstallments(ctx context.Context, insts []deposit.ScheduleInstallment) error {
	return m.write(ctx, func(st deposit.Store) error { return st.SaveInstallments(ctx, insts) })
}

func (m *Store) UpdateInstallment(ctx context.Context, inst deposit.ScheduleInstallment) error {
	return m.write(ctx, func(st deposit.Store) error { return st.UpdateInstallment(ctx, inst) })
}

func (m *Store) ListInstallments(_ context.Context, id generic.AccountID) (out []deposit.ScheduleInstallment, err error) {
	err = m.read(func(s *state) error {
		out = append([]deposit.ScheduleInstallment(nil), s.installments[id]...)
		return nil
	})
	return out, err
}

func (m *Store) AppendTransaction(ctx context.Context, tx generic.Transaction) error {
	return m.write(ctx, func(st deposit.Store) error { return st.AppendTransaction(ctx, tx) })
}

func (m *Store) ListTransactions(_ context.Context, id generic.AccountID) (out []generic.Transaction, err error) {
	err = m.read(func(s *state) error {
		out = append([]generic.Transaction(nil), s.transactions[id]...)
		return nil
	})
	return out, err
}

func (m *Store) MarkTransactionReversed(ctx context.Context, id generic.TransactionID) error {
	return m.write(ctx, func(st deposit.Store) error { return st.MarkTransactionReversed(ctx, id) })
}

func (m *Store) UpsertChargeType(ctx context.Context, name, currency string) (ct deposit.ChargeType, err error) {
	err = m.write(ctx, func(st deposit.Store) error {
		ct, err = st.UpsertChargeType(ctx, name, currency)
		return err
	})
	return ct, err
}

func (m *Store) SaveCharge(ctx context.Context, c deposit.Charge) error {
	return m.write(ctx, func(st deposit.Store) error { return st.SaveCharge(ctx, c) })
}

func (m *Store) GetCharge(_ context.Context, id deposit.ChargeID) (c *deposit.Charge, err error) {
	err = m.read(func(s *state) error {
		c, err = s.getCharge(id)
		return err
	})
	return c, err
}

func (m *Store) UpdateCharge(ctx context.Context, c deposit.Charge) error {
	return m.write(ctx, func(st deposit.Store) error { return st.UpdateCharge(ctx, c) })
}

func (m *Store) SavePenalty(ctx context.Context, p deposit.PenaltyHistory) error {
	return m.write(ctx, func(st deposit.Store) error { return st.SavePenalty(ctx, p) })
}

func (m *Store) GetPenalty(_ context.Context, id deposit.PenaltyID) (p *deposit.PenaltyHistory, err error) {
	err = m.read(func(s *state) error {
		p, err = s.getPenalty(id)
		return err
	})
	return p, err
}

func (m *Store) UpdatePenalty(ctx context.Context, p deposit.PenaltyHistory) error {
	return m.write(ctx, func(st deposit.Store) error { return st.UpdatePenalty(ctx, p) })
}

func (m *Store) CountPenalties(_ context.Context, id generic.AccountID, installment int) (n int, err error) {
	err = m.read(func(s *state) error {
		n = s.countPenalties(id, installment)
		return nil
	})
	return n, err
}

func (m *Store) ListPenalties(_ context.Context, id generic.AccountID) (out []deposit.PenaltyHistory, err error) {
	err = m.read(func(s *state) error {
		out = s.listPenalties(id)
		return nil
	})
	return out, err
}

func (m *Store) SavePrematureClosure(ctx context.Context, h deposit.PrematureClosureHistory) error {
	return m.write(ctx, func(st deposit.Store) error { return st.SavePrematureClosure(ctx, h) })
}

// PrematureClosures returns the recorded closure history for an account.
func (m *Store) PrematureClosures(id generic.AccountID) []deposit.PrematureClosureHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []deposit.PrematureClosureHistory
	for _, h := range m.closures {
		if h.AccountID == id {
			out = append(out, h)
		}
	}
	return out
}

// =============================================================================
// STATE OPERATIONS - callers hold the lock
// =============================================================================

func (s *state) getAccount(id generic.AccountID) (*deposit.Account, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return nil, generic.NotFound("account", id)
	}
	return &acc, nil
}

func (s *state) listAccounts(status deposit.Status) []*deposit.Account {
	var out []*deposit.Account
	for _, acc := range s.accounts {
		if acc.Status == status {
			a := acc
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) getCharge(id deposit.ChargeID) (*deposit.Charge, error) {
	c, ok := s.charges[id]
	if !ok {
		return nil, generic.NotFound("charge", id)
	}
	return &c, nil
}

func (s *state) getPenalty(id deposit.PenaltyID) (*deposit.PenaltyHistory, error) {
	p, ok := s.penalties[id]
	if !ok {
		return nil, generic.NotFound("penalty", id)
	}
	return &p, nil
}

func (s *state) countPenalties(id generic.AccountID, installment int) int {
	n := 0
	for _, p := range s.penalties {
		if p.AccountID == id && p.InstallmentNumber == installment {
			n++
		}
	}
	return n
}

func (s *state) listPenalties(id generic.AccountID) []deposit.PenaltyHistory {
	var out []deposit.PenaltyHistory
	for _, pid := range s.penaltyOrder {
		if p := s.penalties[pid]; p.AccountID == id {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type view struct {
	s *state
}

func (v *view) CreateAccount(_ context.Context, acc *deposit.Account) error {
	if _, exists := v.s.accounts[acc.ID]; exists {
		return generic.ErrDuplicate
	}
	acc.Version = 1
	v.s.accounts[acc.ID] = *acc
	return nil
}

func (v *view) GetAccount(_ context.Context, id generic.AccountID) (*deposit.Account, error) {
	return v.s.getAccount(id)
}

func (v *view) LockAccount(_ context.Context, id generic.AccountID) (*deposit.Account, error) {
	return v.s.getAccount(id)
}

func (v *view) UpdateAccount(_ context.Context, acc *deposit.Account) error {
	stored, ok := v.s.accounts[acc.ID]
	if !ok {
		return generic.NotFound("account", acc.ID)
	}
	if stored.Version != acc.Version {
		return generic.ErrConcurrentModification
	}
	acc.Version++
	v.s.accounts[acc.ID] = *acc
	return nil
}

func (v *view) ListAccountsByStatus(_ context.Context, status deposit.Status) ([]*deposit.Account, error) {
	return v.s.listAccounts(status), nil
}

func (v *view) SaveInstallments(_ context.Context, insts []deposit.ScheduleInstallment) error {
	for _, inst := range insts {
		for _, existing := range v.s.installments[inst.AccountID] {
			if existing.Number == inst.Number {
				return generic.ErrDuplicate
			}
		}
		v.s.installments[inst.AccountID] = append(v.s.installments[inst.AccountID], inst)
	}
	return nil
}

func (v *view) UpdateInstallment(_ context.Context, inst deposit.ScheduleInstallment) error {
	list := v.s.installments[inst.AccountID]
	for i := range list {
		if list[i].Number == inst.Number {
			list[i] = inst
			return nil
		}
	}
	return generic.NotFound("installment", inst.Number)
}

func (v *view) ListInstallments(_ context.Context, id generic.AccountID) ([]deposit.ScheduleInstallment, error) {
	return append([]deposit.ScheduleInstallment(nil), v.s.installments[id]...), nil
}

func (v *view) AppendTransaction(_ context.Context, tx generic.Transaction) error {
	if _, exists := v.s.txIndex[tx.ID]; exists {
		return generic.ErrDuplicate
	}
	v.s.transactions[tx.AccountID] = append(v.s.transactions[tx.AccountID], tx)
	v.s.txIndex[tx.ID] = tx.AccountID
	return nil
}

func (v *view) ListTransactions(_ context.Context, id generic.AccountID) ([]generic.Transaction, error) {
	return append([]generic.Transaction(nil), v.s.transactions[id]...), nil
}

func (v *view) MarkTransactionReversed(_ context.Context, id generic.TransactionID) error {
	accountID, ok := v.s.txIndex[id]
	if !ok {
		return generic.NotFound("transaction", id)
	}
	list := v.s.transactions[accountID]
	for i := range list {
		if list[i].ID == id {
			list[i].Reversed = true
			return nil
		}
	}
	return generic.NotFound("transaction", id)
}

func (v *view) UpsertChargeType(_ context.Context, name, currency string) (deposit.ChargeType, error) {
	k := chargeTypeKey{name: name, currency: currency}
	if ct, ok := v.s.chargeTypes[k]; ok {
		return ct, nil
	}
	v.s.seq++
	ct := deposit.ChargeType{ID: deposit.ChargeTypeID("ct-" + strconv.Itoa(v.s.seq)), Name: name, Currency: currency}
	v.s.chargeTypes[k] = ct
	return ct, nil
}

func (v *view) SaveCharge(_ context.Context, c deposit.Charge) error {
	if _, exists := v.s.charges[c.ID]; exists {
		return generic.ErrDuplicate
	}
	v.s.charges[c.ID] = c
	return nil
}

func (v *view) GetCharge(_ context.Context, id deposit.ChargeID) (*deposit.Charge, error) {
	return v.s.getCharge(id)
}

func (v *view) UpdateCharge(_ context.Context, c deposit.Charge) error {
	if _, ok := v.s.charges[c.ID]; !ok {
		return generic.NotFound("charge", c.ID)
	}
	v.s.charges[c.ID] = c
	return nil
}

func (v *view) SavePenalty(_ context.Context, p deposit.PenaltyHistory) error {
	if _, exists := v.s.penalties[p.ID]; exists {
		return generic.ErrDuplicate
	}
	v.s.penalties[p.ID] = p
	v.s.penaltyOrder = append(v.s.penaltyOrder, p.ID)
	return nil
}

func (v *view) GetPenalty(_ context.Context, id deposit.PenaltyID) (*deposit.PenaltyHistory, error) {
	return v.s.getPenalty(id)
}

func (v *view) UpdatePenalty(_ context.Context, p deposit.PenaltyHistory) error {
	if _, ok := v.s.penalties[p.ID]; !ok {
		return generic.NotFound("penalty", p.ID)
	}
	v.s.penalties[p.ID] = p
	return nil
}

func (v *view) CountPenalties(_ context.Context, id generic.AccountID, installment int) (int, error) {
	return v.s.countPenalties(id, installment), nil
}

func (v *view) ListPenalties(_ context.Context, id generic.AccountID) ([]deposit.PenaltyHistory, error) {
	return v.s.listPenalties(id), nil
}

func (v *view) SavePrematureClosure(_ context.Context, h deposit.PrematureClosureHistory) error {
	v.s.closures = append(v.s.closures, h)
	return nil
}

var (
	_ deposit.TxStore = (*Store)(nil)
	_ deposit.Store   = (*view)(nil)
)
