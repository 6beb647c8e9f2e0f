package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process implementation of every store interface.
// It backs local runs without a database and the service tests.
type MemoryStore struct {
	mu sync.RWMutex

	businesses   map[int64]Business
	transactions map[int64][]Transaction
	inventory    map[int64][]InventoryItem
	scores       map[int64][]CreditScore
	alerts       map[int64][]RiskAlertRecord

	nextTxID    int64
	nextItemID  int64
	nextAlertID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		businesses:   make(map[int64]Business),
		transactions: make(map[int64][]Transaction),
		inventory:    make(map[int64][]InventoryItem),
		scores:       make(map[int64][]CreditScore),
		alerts:       make(map[int64][]RiskAlertRecord),
	}
}

// FetchBusiness returns a business by id.
func (m *MemoryStore) FetchBusiness(_ context.Context, businessID int64) (Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.businesses[businessID]
	if !ok {
		return Business{}, ErrNotFound
	}
	return b, nil
}

// ListBusinesses lists businesses of an owner, or all when ownerID is zero.
func (m *MemoryStore) ListBusinesses(_ context.Context, ownerID int64) ([]Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Business, 0, len(m.businesses))
	for _, b := range m.businesses {
		if ownerID != 0 && b.OwnerID != ownerID {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FetchTransactions lists transactions created at or after since, oldest first.
func (m *MemoryStore) FetchTransactions(_ context.Context, businessID int64, since time.Time) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Transaction, 0, len(m.transactions[businessID]))
	for _, tx := range m.transactions[businessID] {
		if tx.CreatedAt.Before(since) {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// FetchInventory lists inventory lines of a business.
func (m *MemoryStore) FetchInventory(_ context.Context, businessID int64) ([]InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.inventory[businessID]
	out := make([]InventoryItem, len(items))
	copy(out, items)
	return out, nil
}

// UpsertBusiness stores or replaces a business.
func (m *MemoryStore) UpsertBusiness(_ context.Context, business Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.businesses[business.ID] = business
	return nil
}

// InsertTransactions appends transactions, assigning ids.
func (m *MemoryStore) InsertTransactions(_ context.Context, txs []Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range txs {
		m.nextTxID++
		tx.ID = m.nextTxID
		m.transactions[tx.BusinessID] = append(m.transactions[tx.BusinessID], tx)
	}
	return nil
}

// InsertInventory appends inventory lines, assigning ids.
func (m *MemoryStore) InsertInventory(_ context.Context, items []InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		m.nextItemID++
		item.ID = m.nextItemID
		m.inventory[item.BusinessID] = append(m.inventory[item.BusinessID], item)
	}
	return nil
}

// InsertCreditScore appends a score record.
func (m *MemoryStore) InsertCreditScore(_ context.Context, score CreditScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := make(map[string]float64, len(score.Metrics))
	for k, v := range score.Metrics {
		metrics[k] = v
	}
	score.Metrics = metrics
	m.scores[score.BusinessID] = append(m.scores[score.BusinessID], score)
	return nil
}

// LatestValidCreditScore returns the newest score valid at the given instant.
func (m *MemoryStore) LatestValidCreditScore(_ context.Context, businessID int64, at time.Time) (CreditScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, score := range m.sortedScores(businessID) {
		if score.IsValid(at) {
			return score, nil
		}
	}
	return CreditScore{}, ErrNotFound
}

// LatestCreditScore returns the newest score regardless of validity.
func (m *MemoryStore) LatestCreditScore(_ context.Context, businessID int64) (CreditScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := m.sortedScores(businessID)
	if len(scores) == 0 {
		return CreditScore{}, ErrNotFound
	}
	return scores[0], nil
}

// ListCreditScores lists score history, newest first.
func (m *MemoryStore) ListCreditScores(_ context.Context, businessID int64, limit int) ([]CreditScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := m.sortedScores(businessID)
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

// ListExpiredScores returns the latest score of every business whose latest score is no longer valid.
func (m *MemoryStore) ListExpiredScores(_ context.Context, at time.Time) ([]CreditScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CreditScore, 0)
	for businessID := range m.scores {
		scores := m.sortedScores(businessID)
		if len(scores) > 0 && !scores[0].IsValid(at) {
			out = append(out, scores[0])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessID < out[j].BusinessID })
	return out, nil
}

// ListScoredBusinesses lists businesses with a valid score inside the filter bounds.
func (m *MemoryStore) ListScoredBusinesses(_ context.Context, filter ScoreFilter) ([]ScoredBusiness, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	ids := make([]int64, 0, len(m.businesses))
	for id := range m.businesses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]ScoredBusiness, 0)
	for _, id := range ids {
		var latest *CreditScore
		for _, score := range m.sortedScores(id) {
			if score.IsValid(filter.ValidAt) {
				s := score
				latest = &s
				break
			}
		}
		if latest == nil {
			continue
		}
		if filter.MinScore != 0 && latest.Score < filter.MinScore {
			continue
		}
		if filter.MaxScore != 0 && latest.Score > filter.MaxScore {
			continue
		}
		b := m.businesses[id]
		out = append(out, ScoredBusiness{
			BusinessID:   b.ID,
			BusinessName: b.Name,
			OwnerEmail:   b.OwnerEmail,
			Score:        latest.Score,
			CalculatedAt: latest.CalculatedAt,
			ValidUntil:   latest.ValidUntil,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// InsertRiskAlert stores an alert, replacing any alert for the same business and day.
func (m *MemoryStore) InsertRiskAlert(_ context.Context, alert RiskAlertRecord) (RiskAlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert.Day = truncateDay(alert.Day)
	existing := m.alerts[alert.BusinessID]
	for i, rec := range existing {
		if rec.Day.Equal(alert.Day) {
			alert.ID = rec.ID
			alert.CreatedAt = rec.CreatedAt
			existing[i] = alert
			return alert, nil
		}
	}

	m.nextAlertID++
	alert.ID = m.nextAlertID
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	m.alerts[alert.BusinessID] = append(existing, alert)
	return alert, nil
}

// LastRiskAlert returns the most recent alert for a business.
func (m *MemoryStore) LastRiskAlert(_ context.Context, businessID int64) (RiskAlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alerts := m.alerts[businessID]
	if len(alerts) == 0 {
		return RiskAlertRecord{}, ErrNotFound
	}
	last := alerts[0]
	for _, rec := range alerts[1:] {
		if rec.CreatedAt.After(last.CreatedAt) {
			last = rec
		}
	}
	return last, nil
}

// DeleteRiskAlertsBefore drops alerts created before olderThan.
func (m *MemoryStore) DeleteRiskAlertsBefore(_ context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, alerts := range m.alerts {
		kept := alerts[:0]
		for _, rec := range alerts {
			if !rec.CreatedAt.Before(olderThan) {
				kept = append(kept, rec)
			}
		}
		m.alerts[id] = kept
	}
	return nil
}

// sortedScores returns a copy of the business's scores, newest first. Caller holds the lock.
func (m *MemoryStore) sortedScores(businessID int64) []CreditScore {
	scores := make([]CreditScore, len(m.scores[businessID]))
	copy(scores, m.scores[businessID])
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].CalculatedAt.After(scores[j].CalculatedAt)
	})
	return scores
}

func truncateDay(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

var (
	_ RecordReader     = (*MemoryStore)(nil)
	_ RecordWriter     = (*MemoryStore)(nil)
	_ CreditScoreStore = (*MemoryStore)(nil)
	_ RiskAlertStore   = (*MemoryStore)(nil)

	_ RecordReader     = (*Store)(nil)
	_ RecordWriter     = (*Store)(nil)
	_ CreditScoreStore = (*Store)(nil)
	_ RiskAlertStore   = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
