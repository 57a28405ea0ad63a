// Package snapshot keeps point-in-time holdings per user and answers which
// statement is current. It never merges statements: the current holdings are
// exactly the holdings of one statement.
package snapshot

import (
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
)

// Statement is the set of holdings one uploaded statement reported.
type Statement struct {
	UserID      string           `json:"user_id"`
	StatementID string           `json:"statement_id"`
	BatchID     string           `json:"batch_id"`
	AsOfDate    civil.Date       `json:"as_of_date"`
	UploadedAt  time.Time        `json:"uploaded_at"`
	Holdings    []domain.Holding `json:"holdings"`
}

func (s Statement) clone() Statement {
	s.Holdings = append([]domain.Holding(nil), s.Holdings...)
	return s
}

// newer reports whether a should be preferred over b as the current statement.
func newer(a, b Statement) bool {
	if a.AsOfDate != b.AsOfDate {
		return a.AsOfDate.After(b.AsOfDate)
	}
	if !a.UploadedAt.Equal(b.UploadedAt) {
		return a.UploadedAt.After(b.UploadedAt)
	}
	return a.StatementID > b.StatementID
}

// Reconciler is an in-memory index of statements keyed by user.
// It is safe for concurrent use.
type Reconciler struct {
	mu    sync.RWMutex
	users map[string]map[string]Statement // user → statement ID → statement
}

// New returns an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{users: make(map[string]map[string]Statement)}
}

// Record adds a statement. A statement with the same ID for the same user
// replaces the earlier one, so re-uploading a file is idempotent.
func (r *Reconciler) Record(s Statement) {
	s = normalize(s)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser(s.UserID)[s.StatementID] = s
}

// Backfill adds stored statements whose IDs are not indexed yet. A statement
// already recorded is newer than its stored copy and is kept.
func (r *Reconciler) Backfill(statements ...Statement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range statements {
		byID := r.byUser(s.UserID)
		if _, ok := byID[s.StatementID]; ok {
			continue
		}
		byID[s.StatementID] = normalize(s)
	}
}

// byUser must be called with mu held for writing.
func (r *Reconciler) byUser(userID string) map[string]Statement {
	byID, ok := r.users[userID]
	if !ok {
		byID = make(map[string]Statement)
		r.users[userID] = byID
	}
	return byID
}

func normalize(s Statement) Statement {
	s = s.clone()
	for i := range s.Holdings {
		s.Holdings[i].UserID = s.UserID
		s.Holdings[i].AsOfDate = s.AsOfDate
		s.Holdings[i].SourceStatementID = s.StatementID
	}
	return s
}

// Load rehydrates the index from persisted statements.
func (r *Reconciler) Load(statements ...Statement) {
	for _, s := range statements {
		r.Record(s)
	}
}

// Current returns the holdings of the user's statement with the latest
// as-of date. Ties go to the latest upload, then to the larger statement ID.
func (r *Reconciler) Current(userID string) []domain.Holding {
	s, ok := r.CurrentStatement(userID)
	if !ok {
		return nil
	}
	return s.Holdings
}

// CurrentStatement is Current with the statement metadata.
func (r *Reconciler) CurrentStatement(userID string) (Statement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Statement
	found := false
	for _, s := range r.users[userID] {
		if !found || newer(s, best) {
			best, found = s, true
		}
	}
	if !found {
		return Statement{}, false
	}
	return best.clone(), true
}

// Statements lists every statement recorded for the user, newest first.
func (r *Reconciler) Statements(userID string) []Statement {
	r.mu.RLock()
	out := make([]Statement, 0, len(r.users[userID]))
	for _, s := range r.users[userID] {
		out = append(out, s.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}

// Group turns flat holding rows, as read back from storage, into statements.
func Group(holdings []domain.Holding, uploadedAt map[string]time.Time) []Statement {
	type key struct{ user, statement string }
	index := make(map[key]int)
	var out []Statement
	for _, h := range holdings {
		k := key{h.UserID, h.SourceStatementID}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, Statement{
				UserID:      h.UserID,
				StatementID: h.SourceStatementID,
				AsOfDate:    h.AsOfDate,
				UploadedAt:  uploadedAt[h.SourceStatementID],
			})
		}
		out[i].Holdings = append(out[i].Holdings, h)
	}
	return out
}
