package snapshot

import (
	"context"
	"fmt"
	"sync"
)

// Loader reads a user's persisted statements.
type Loader interface {
	LoadStatements(ctx context.Context, userID string) ([]Statement, error)
}

// Cache fills a Reconciler from storage the first time a user is asked for.
// New statements still go straight to the Reconciler through Record. Loads
// for different users run in parallel; one user is loaded at most once.
type Cache struct {
	r      *Reconciler
	loader Loader

	mu    sync.Mutex
	users map[string]*userLoad
}

type userLoad struct {
	mu     sync.Mutex
	loaded bool
}

// NewCache wraps r. A nil loader makes Cache a plain view over r.
func NewCache(r *Reconciler, loader Loader) *Cache {
	return &Cache{r: r, loader: loader, users: make(map[string]*userLoad)}
}

// Record implements the pipeline's snapshot recorder.
func (c *Cache) Record(s Statement) {
	c.r.Record(s)
}

// CurrentStatement loads the user's history if needed and returns the
// current statement.
func (c *Cache) CurrentStatement(ctx context.Context, userID string) (Statement, bool, error) {
	if err := c.ensure(ctx, userID); err != nil {
		return Statement{}, false, err
	}
	s, ok := c.r.CurrentStatement(userID)
	return s, ok, nil
}

// Statements is Reconciler.Statements after loading the user's history.
func (c *Cache) Statements(ctx context.Context, userID string) ([]Statement, error) {
	if err := c.ensure(ctx, userID); err != nil {
		return nil, err
	}
	return c.r.Statements(userID), nil
}

func (c *Cache) user(userID string) *userLoad {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[userID]
	if !ok {
		u = &userLoad{}
		c.users[userID] = u
	}
	return u
}

func (c *Cache) ensure(ctx context.Context, userID string) error {
	if c.loader == nil {
		return nil
	}
	u := c.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.loaded {
		return nil
	}

	stored, err := c.loader.LoadStatements(ctx, userID)
	if err != nil {
		return fmt.Errorf("load statements for %s: %w", userID, err)
	}
	c.r.Backfill(stored...)
	u.loaded = true
	return nil
}
