package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/models"
)

// Locker serializes work on one session inside this process.
// This is defined here to break the import cycle between room and persistence.
type Locker interface {
	Lock(sessionID string) (unlock func())
}

// Mutation edits a freshly loaded session in place and reports whether
// anything changed. Unchanged sessions are not written back.
type Mutation func(s *models.Session) (changed bool, err error)

// Updater runs read-modify-write cycles against a SessionStore. Writers in the
// same process queue on the Locker; writers in other processes are detected by
// the version check and retried.
type Updater struct {
	store      SessionStore
	locker     Locker
	maxRetries int
	ttl        time.Duration
	now        func() time.Time
	onConflict func(sessionID string)
}

type UpdaterOption func(*Updater)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) UpdaterOption {
	return func(u *Updater) { u.now = now }
}

// WithConflictHook is called each time a save loses a version race.
func WithConflictHook(fn func(sessionID string)) UpdaterOption {
	return func(u *Updater) { u.onConflict = fn }
}

func NewUpdater(store SessionStore, locker Locker, maxRetries int, ttl time.Duration, opts ...UpdaterOption) *Updater {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if ttl <= 0 {
		ttl = models.DefaultSessionTTL
	}
	u := &Updater{
		store:      store,
		locker:     locker,
		maxRetries: maxRetries,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Load returns the session, treating expired sessions as missing.
func (u *Updater) Load(ctx context.Context, id string) (*models.Session, error) {
	s, err := u.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Expired(u.now(), u.ttl) {
		return nil, ErrRecordNotFound
	}
	return s, nil
}

// Update applies fn to the current session and saves the result. It returns
// the session as stored after the call, changed or not.
func (u *Updater) Update(ctx context.Context, id string, fn Mutation) (*models.Session, error) {
	if u.locker != nil {
		unlock := u.locker.Lock(id)
		defer unlock()
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, err := u.Load(ctx, id)
		if err != nil {
			return nil, err
		}

		changed, err := fn(s)
		if err != nil {
			return nil, err
		}
		if !changed {
			return s, nil
		}

		err = u.store.SaveSession(ctx, s)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}

		if u.onConflict != nil {
			u.onConflict(id)
		}
		if attempt >= u.maxRetries {
			return nil, fmt.Errorf("session %s after %d attempts: %w", id, attempt, err)
		}
		logger.Log.Debugf("Version conflict on session %s, retrying (attempt %d)", id, attempt)
	}
}
