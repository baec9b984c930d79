package relation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/store"
)

const (
	defaultSessionTimeout = 30 * time.Minute
	defaultDecayFactor    = 0.99 // per day
	strengthFloor         = 0.05
	// each shared session adds this much strength, saturating at 1
	coOccurrenceStep = 0.2
)

// Tracker groups file accesses into activity sessions and emits
// same-session relations when a session closes.
type Tracker struct {
	store   *store.Store
	engine  *Engine
	logger  *zap.Logger
	timeout time.Duration
	decay   float64
	now     func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the logger.
func WithTrackerLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithSessionTimeout overrides the inactivity window.
func WithSessionTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.timeout = d }
}

// NewTracker wires the session tracker. The engine is used for block
// rule checks when emitting relations.
func NewTracker(st *store.Store, engine *Engine, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:   st,
		engine:  engine,
		logger:  zap.NewNop(),
		timeout: defaultSessionTimeout,
		decay:   defaultDecayFactor,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordAccess notes a file touch. Activity past the inactivity window
// closes the previous session (emitting its relations) and opens a new
// one.
func (t *Tracker) RecordAccess(ctx context.Context, fileID string, kind models.AccessKind) error {
	now := t.now().UTC()

	sess, err := t.store.Sessions.ActiveSession(ctx)
	switch {
	case faults.KindOf(err) == faults.NotFound:
		sess, err = t.openSession(ctx, now)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	case now.Sub(sess.LastActivityAt) > t.timeout:
		if err := t.closeSession(ctx, sess, sess.LastActivityAt); err != nil {
			return err
		}
		sess, err = t.openSession(ctx, now)
		if err != nil {
			return err
		}
	}

	if err := t.store.Sessions.RecordAccess(ctx, &models.SessionAccess{
		SessionID:  sess.ID,
		FileID:     fileID,
		AccessedAt: now,
		Kind:       kind,
	}); err != nil {
		return err
	}
	if err := t.store.Sessions.RecordEvent(ctx, &models.SessionEvent{
		ID:        models.NewID(),
		SessionID: sess.ID,
		FileID:    fileID,
		EventType: string(kind),
		Timestamp: now,
	}); err != nil {
		return err
	}
	return t.store.Sessions.Touch(ctx, sess.ID, now)
}

// Sweep closes the active session when it has been idle past the
// timeout. Run periodically.
func (t *Tracker) Sweep(ctx context.Context) error {
	sess, err := t.store.Sessions.ActiveSession(ctx)
	if faults.KindOf(err) == faults.NotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if t.now().UTC().Sub(sess.LastActivityAt) <= t.timeout {
		return nil
	}
	return t.closeSession(ctx, sess, sess.LastActivityAt)
}

// Decay applies the daily decay to automatic same-session relations,
// deleting those that fall below the floor. Returns how many dropped.
func (t *Tracker) Decay(ctx context.Context) (int64, error) {
	return t.store.Relations.DecayStrengths(ctx, models.RelSameSession, t.decay, strengthFloor)
}

func (t *Tracker) openSession(ctx context.Context, now time.Time) (*models.Session, error) {
	sess := &models.Session{
		ID:             models.NewID(),
		StartedAt:      now,
		LastActivityAt: now,
		Active:         true,
	}
	if err := t.store.Sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// closeSession ends the session and emits pairwise same-session
// relations when it touched at least two distinct files. Repeated
// co-occurrence accumulates strength stepwise up to 1.
func (t *Tracker) closeSession(ctx context.Context, sess *models.Session, at time.Time) error {
	if err := t.store.Sessions.End(ctx, sess.ID, at); err != nil {
		return err
	}
	files, err := t.store.Sessions.DistinctFiles(ctx, sess.ID)
	if err != nil {
		return err
	}
	// Private files never enter relations, even via co-occurrence.
	visible := files[:0]
	for _, id := range files {
		rec, err := t.store.Files.Get(ctx, id)
		if faults.KindOf(err) == faults.NotFound {
			continue
		}
		if err != nil {
			return err
		}
		if rec.Privacy == models.PrivacyPrivate {
			continue
		}
		visible = append(visible, id)
	}
	files = visible
	if len(files) < 2 {
		return nil
	}

	rules, err := t.engine.activeRules(ctx)
	if err != nil {
		return err
	}
	emitted := 0
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			blocked, err := t.engine.blocked(ctx, rules, files[i], files[j], models.RelSameSession)
			if err != nil {
				return err
			}
			if blocked {
				continue
			}
			strength := coOccurrenceStep
			if prev, err := t.store.Relations.Find(ctx, files[i], files[j], models.RelSameSession); err == nil {
				strength = prev.Strength + coOccurrenceStep
				if strength > 1 {
					strength = 1
				}
			}
			if err := t.engine.upsertSymmetric(ctx, files[i], files[j],
				models.RelSameSession, strength, models.RelSourceSession); err != nil {
				return err
			}
			emitted++
		}
	}
	t.logger.Debug("session closed",
		zap.String("session", sess.ID),
		zap.Int("files", len(files)),
		zap.Int("pairs", emitted))
	return nil
}
