// Package reconcile decides whether incoming friend states are worth
// persisting and applies them to the entity store.
//
// Every read-modify-write runs inside one store transaction. The Gate is
// a cheap pre-filter ahead of that transaction; the reconciler always
// re-checks the stored record, so a cold or cleared gate never lets a
// stale update through.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/friendloc/internal/db"
	"github.com/banshee-data/friendloc/internal/forward"
	"github.com/banshee-data/friendloc/internal/geo"
	"github.com/banshee-data/friendloc/internal/monitoring"
	"github.com/banshee-data/friendloc/internal/notify"
	"github.com/banshee-data/friendloc/internal/units"
)

// Reasons reported for updates that were not applied.
const (
	ReasonRateLimited   = "rate-limited"
	ReasonUnknownEntity = "unknown entity"
	ReasonDuplicate     = "duplicate"
	ReasonStale         = "stale"
	ReasonUnchanged     = "unchanged"
)

// FriendState is one position report for a friend.
type FriendState struct {
	ExternalID   string
	LastSeen     time.Time
	Lat          float64
	Lon          float64
	Accuracy     float64
	Speed        float64 // km/h; zero means unknown
	BatteryLevel float64 // 0..1
	Charging     bool
}

// Position returns the reported location as an orb point.
func (s FriendState) Position() orb.Point {
	return orb.Point{s.Lon, s.Lat}
}

// Profile is a friend's identity as listed by the upstream service.
type Profile struct {
	ExternalID string
	Name       string
	Logo       string
}

// Result describes the outcome of ApplyFriendState.
type Result struct {
	Applied bool
	Reason  string
	Entity  *db.Entity
}

// Store is the transactional entity store.
type Store interface {
	WithTx(ctx context.Context, fn func(store db.EntityStore) error) error
	ListAll(ctx context.Context) ([]db.Entity, error)
}

// Reconciler applies stream reports to the entity store and forwards real
// movement downstream.
type Reconciler struct {
	store     Store
	gate      *Gate
	forwarder forward.Forwarder
	notifier  notify.Notifier
	source    string
}

// New creates a reconciler. source names this process in forwarded events
// and notifications.
func New(store Store, gate *Gate, fwd forward.Forwarder, n notify.Notifier, source string) *Reconciler {
	if fwd == nil {
		fwd = forward.Noop{}
	}
	if n == nil {
		n = notify.Log{}
	}
	if gate == nil {
		gate = NewGate(0)
	}
	return &Reconciler{store: store, gate: gate, forwarder: fwd, notifier: n, source: source}
}

func (r *Reconciler) Gate() *Gate { return r.gate }

// Snapshot returns every known entity.
func (r *Reconciler) Snapshot(ctx context.Context) ([]db.Entity, error) {
	return r.store.ListAll(ctx)
}

// ApplyFriendState applies state to its entity when it represents new
// information. The returned error only reports storage failures; forwarding
// problems are logged and never undo the committed update.
func (r *Reconciler) ApplyFriendState(ctx context.Context, state FriendState) (Result, error) {
	if !r.gate.Allow(state.ExternalID, state.LastSeen) {
		return Result{Reason: ReasonRateLimited}, nil
	}

	var res Result
	err := r.store.WithTx(ctx, func(store db.EntityStore) error {
		e, err := store.GetByExternalID(ctx, state.ExternalID)
		if errors.Is(err, db.ErrNotFound) {
			res.Reason = ReasonUnknownEntity
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case e.LastAppliedAt.Equal(state.LastSeen):
			res.Reason = ReasonDuplicate
			return nil
		case state.LastSeen.Before(e.LastAppliedAt):
			res.Reason = ReasonStale
			return nil
		}

		battery := units.BatteryPercent(state.BatteryLevel)
		if e.Lat == state.Lat && e.Lon == state.Lon && e.BatteryPercent == battery {
			res.Reason = ReasonUnchanged
			return nil
		}

		e.SpeedKPH = r.speed(e, state)
		e.Lat = state.Lat
		e.Lon = state.Lon
		if state.Accuracy != 0 {
			e.AccuracyMeters = state.Accuracy
		}
		e.BatteryPercent = battery
		e.BatteryCharging = state.Charging
		e.LastAppliedAt = state.LastSeen.UTC()

		if err := store.Upsert(ctx, e); err != nil {
			return err
		}
		res.Applied = true
		res.Entity = e
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to apply state for %s: %w", state.ExternalID, err)
	}
	if !res.Applied {
		monitoring.Debugf("skipped state for %s: %s", state.ExternalID, res.Reason)
		return res, nil
	}

	r.gate.Commit(state.ExternalID, state.LastSeen)
	if res.Entity.ForwardEnabled {
		r.forward(ctx, res.Entity)
	}
	return res, nil
}

func (r *Reconciler) speed(prior *db.Entity, state FriendState) float64 {
	if state.Speed != 0 {
		return state.Speed
	}
	if prior.LastAppliedAt.IsZero() {
		return 0
	}
	kph, err := geo.SpeedKPH(prior.Position(), prior.LastAppliedAt, state.Position(), state.LastSeen)
	if err != nil {
		monitoring.Warnf("speed for %s: %v", state.ExternalID, err)
	}
	return kph
}

func (r *Reconciler) forward(ctx context.Context, e *db.Entity) {
	ev := forward.Event{
		Device:   e.ExternalID,
		Lat:      e.Lat,
		Lon:      e.Lon,
		Accuracy: e.AccuracyMeters,
		Address:  e.Address,
		Speed:    e.SpeedKPH,
		Battery:  e.BatteryPercent,
		Charging: e.BatteryCharging,
		Provider: r.source,
		Added:    e.LastAppliedAt,
	}
	if err := r.forwarder.Forward(ctx, ev); err != nil {
		monitoring.Warnf("failed to forward position for %s: %v", e.ExternalID, err)
	}
}

// ApplyProfileList creates entities for profiles seen for the first time and
// refreshes name and avatar on all of them.
func (r *Reconciler) ApplyProfileList(ctx context.Context, profiles []Profile) error {
	var created []string
	err := r.store.WithTx(ctx, func(store db.EntityStore) error {
		for _, p := range profiles {
			e, err := store.GetByExternalID(ctx, p.ExternalID)
			switch {
			case errors.Is(err, db.ErrNotFound):
				e = &db.Entity{ExternalID: p.ExternalID}
				created = append(created, p.Name)
			case err != nil:
				return err
			}
			e.DisplayName = p.Name
			e.AvatarRef = p.Logo
			if err := store.Upsert(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply profile list: %w", err)
	}

	for _, name := range created {
		r.notifier.Notify("New friend", fmt.Sprintf("Added new friend %s", name), notify.Info, r.source)
	}
	return nil
}
