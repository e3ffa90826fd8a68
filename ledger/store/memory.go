// Package store provides Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/corepath/rewards-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	accounts      map[string]ledger.Account
	entries       map[string][]ledger.Entry // per account, commit order
	idempotency   map[idemKey]ledger.Entry
	edges         map[string]ledger.ReferralEdge
	edgeByReferee map[string]string // referee id -> edge id
	codes         map[string]string // referral code -> account id
	runs          []ledger.AuditRun
}

type idemKey struct {
	AccountID string
	Key       string
}

func NewMemory() *Memory {
	return &Memory{
		accounts:      make(map[string]ledger.Account),
		entries:       make(map[string][]ledger.Entry),
		idempotency:   make(map[idemKey]ledger.Entry),
		edges:         make(map[string]ledger.ReferralEdge),
		edgeByReferee: make(map[string]string),
		codes:         make(map[string]string),
	}
}

// --- accounts ---

func (m *Memory) CreateAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(a)
}

func (m *Memory) createAccountLocked(a ledger.Account) error {
	if _, ok := m.accounts[a.ID]; ok {
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.accounts[a.ID] = a
	if a.ReferralCode != "" {
		m.codes[a.ReferralCode] = a.ID
	}
	return nil
}

func (m *Memory) Account(_ context.Context, id string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountLocked(id), nil
}

func (m *Memory) accountLocked(id string) *ledger.Account {
	a, ok := m.accounts[id]
	if !ok {
		return nil
	}
	return &a
}

func (m *Memory) AccountByReferralCode(_ context.Context, code string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.codes[code]
	if !ok {
		return nil, nil
	}
	return m.accountLocked(id), nil
}

func (m *Memory) AddToBalance(_ context.Context, accountID string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addToBalanceLocked(accountID, delta)
}

func (m *Memory) addToBalanceLocked(accountID string, delta int64) error {
	a, ok := m.accounts[accountID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.Balance += delta
	m.accounts[accountID] = a
	return nil
}

func (m *Memory) AccountIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

// --- entries ---

func (m *Memory) AppendEntry(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

func (m *Memory) appendEntryLocked(e ledger.Entry) error {
	k := idemKey{AccountID: e.AccountID, Key: e.IdempotencyKey}
	if _, ok := m.idempotency[k]; ok {
		return ledger.ErrDuplicateIdempotencyKey
	}
	m.entries[e.AccountID] = append(m.entries[e.AccountID], e)
	m.idempotency[k] = e
	return nil
}

func (m *Memory) EntryByIdempotencyKey(_ context.Context, accountID, key string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entryByKeyLocked(accountID, key), nil
}

func (m *Memory) entryByKeyLocked(accountID, key string) *ledger.Entry {
	e, ok := m.idempotency[idemKey{AccountID: accountID, Key: key}]
	if !ok {
		return nil
	}
	return &e
}

func (m *Memory) EntriesFor(_ context.Context, accountID string, since *time.Time) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesForLocked(accountID, since), nil
}

func (m *Memory) entriesForLocked(accountID string, since *time.Time) []ledger.Entry {
	var result []ledger.Entry
	for _, e := range m.entries[accountID] {
		if since != nil && e.CreatedAt.Before(*since) {
			continue
		}
		result = append(result, e)
	}
	return result
}

func (m *Memory) SumDeltas(_ context.Context, accountID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sumDeltasLocked(accountID), nil
}

func (m *Memory) sumDeltasLocked(accountID string) int64 {
	var sum int64
	for _, e := range m.entries[accountID] {
		sum += e.Delta
	}
	return sum
}

// --- referral edges ---

func (m *Memory) CreateEdge(_ context.Context, e ledger.ReferralEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createEdgeLocked(e)
}

func (m *Memory) createEdgeLocked(e ledger.ReferralEdge) error {
	if existingID, ok := m.edgeByReferee[e.RefereeID]; ok {
		return &ledger.RefereeAlreadyReferredError{RefereeID: e.RefereeID, ExistingEdgeID: existingID}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.edges[e.ID] = e
	m.edgeByReferee[e.RefereeID] = e.ID
	return nil
}

func (m *Memory) Edge(_ context.Context, id string) (*ledger.ReferralEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edgeLocked(id), nil
}

func (m *Memory) edgeLocked(id string) *ledger.ReferralEdge {
	e, ok := m.edges[id]
	if !ok {
		return nil
	}
	return &e
}

func (m *Memory) EdgeByReferee(_ context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edgeByRefereeLocked(refereeID), nil
}

func (m *Memory) edgeByRefereeLocked(refereeID string) *ledger.ReferralEdge {
	id, ok := m.edgeByReferee[refereeID]
	if !ok {
		return nil
	}
	return m.edgeLocked(id)
}

func (m *Memory) EdgesByReferrer(_ context.Context, referrerID string) ([]ledger.ReferralEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edgesByReferrerLocked(referrerID), nil
}

func (m *Memory) edgesByReferrerLocked(referrerID string) []ledger.ReferralEdge {
	var result []ledger.ReferralEdge
	for _, e := range m.edges {
		if e.ReferrerID == referrerID {
			result = append(result, e)
		}
	}
	return result
}

func (m *Memory) TransitionEdge(_ context.Context, id string, from, to ledger.EdgeStatus, completedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionEdgeLocked(id, from, to, completedAt)
}

func (m *Memory) transitionEdgeLocked(id string, from, to ledger.EdgeStatus, completedAt *time.Time) (bool, error) {
	e, ok := m.edges[id]
	if !ok {
		return false, ledger.ErrEdgeNotFound
	}
	if e.Status != from {
		return false, nil
	}
	e.Status = to
	if completedAt != nil {
		e.CompletedAt = completedAt
	}
	m.edges[id] = e
	return true, nil
}

// --- audit runs ---

func (m *Memory) SaveAuditRun(_ context.Context, run ledger.AuditRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) AuditRuns(_ context.Context, limit int) ([]ledger.AuditRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Newest first.
	result := make([]ledger.AuditRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		result = append(result, m.runs[i])
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
// Transactions are simulated with a snapshot + rollback on error; the store
// mutex is held for the whole transaction, which serializes concurrent
// WithTx calls the same way the SQLite store does.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts      map[string]ledger.Account
	entries       map[string][]ledger.Entry
	idempotency   map[idemKey]ledger.Entry
	edges         map[string]ledger.ReferralEdge
	edgeByReferee map[string]string
	codes         map[string]string
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:      make(map[string]ledger.Account, len(tm.accounts)),
		entries:       make(map[string][]ledger.Entry, len(tm.entries)),
		idempotency:   make(map[idemKey]ledger.Entry, len(tm.idempotency)),
		edges:         make(map[string]ledger.ReferralEdge, len(tm.edges)),
		edgeByReferee: make(map[string]string, len(tm.edgeByReferee)),
		codes:         make(map[string]string, len(tm.codes)),
	}
	for k, v := range tm.accounts {
		s.accounts[k] = v
	}
	for k, v := range tm.entries {
		s.entries[k] = append([]ledger.Entry{}, v...)
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range tm.edges {
		s.edges[k] = v
	}
	for k, v := range tm.edgeByReferee {
		s.edgeByReferee[k] = v
	}
	for k, v := range tm.codes {
		s.codes[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.accounts = s.accounts
	tm.entries = s.entries
	tm.idempotency = s.idempotency
	tm.edges = s.edges
	tm.edgeByReferee = s.edgeByReferee
	tm.codes = s.codes
}

// txMemoryView is the in-transaction view. The parent mutex is already held
// by WithTx, so all access goes through the lock-free internals.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateAccount(_ context.Context, a ledger.Account) error {
	return tv.parent.createAccountLocked(a)
}

func (tv *txMemoryView) Account(_ context.Context, id string) (*ledger.Account, error) {
	return tv.parent.accountLocked(id), nil
}

func (tv *txMemoryView) AccountByReferralCode(_ context.Context, code string) (*ledger.Account, error) {
	id, ok := tv.parent.codes[code]
	if !ok {
		return nil, nil
	}
	return tv.parent.accountLocked(id), nil
}

func (tv *txMemoryView) AddToBalance(_ context.Context, accountID string, delta int64) error {
	return tv.parent.addToBalanceLocked(accountID, delta)
}

func (tv *txMemoryView) AccountIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(tv.parent.accounts))
	for id := range tv.parent.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (tv *txMemoryView) AppendEntry(_ context.Context, e ledger.Entry) error {
	return tv.parent.appendEntryLocked(e)
}

func (tv *txMemoryView) EntryByIdempotencyKey(_ context.Context, accountID, key string) (*ledger.Entry, error) {
	return tv.parent.entryByKeyLocked(accountID, key), nil
}

func (tv *txMemoryView) EntriesFor(_ context.Context, accountID string, since *time.Time) ([]ledger.Entry, error) {
	return tv.parent.entriesForLocked(accountID, since), nil
}

func (tv *txMemoryView) SumDeltas(_ context.Context, accountID string) (int64, error) {
	return tv.parent.sumDeltasLocked(accountID), nil
}

func (tv *txMemoryView) CreateEdge(_ context.Context, e ledger.ReferralEdge) error {
	return tv.parent.createEdgeLocked(e)
}

func (tv *txMemoryView) Edge(_ context.Context, id string) (*ledger.ReferralEdge, error) {
	return tv.parent.edgeLocked(id), nil
}

func (tv *txMemoryView) EdgeByReferee(_ context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	return tv.parent.edgeByRefereeLocked(refereeID), nil
}

func (tv *txMemoryView) EdgesByReferrer(_ context.Context, referrerID string) ([]ledger.ReferralEdge, error) {
	return tv.parent.edgesByReferrerLocked(referrerID), nil
}

func (tv *txMemoryView) TransitionEdge(_ context.Context, id string, from, to ledger.EdgeStatus, completedAt *time.Time) (bool, error) {
	return tv.parent.transitionEdgeLocked(id, from, to, completedAt)
}
