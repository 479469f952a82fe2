package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/friendloc/internal/db"
	"github.com/banshee-data/friendloc/internal/forward"
	"github.com/banshee-data/friendloc/internal/geo"
	"github.com/banshee-data/friendloc/internal/notify"
	"github.com/banshee-data/friendloc/internal/testutil"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingForwarder struct {
	mu     sync.Mutex
	events []forward.Event
	err    error
}

func (f *recordingForwarder) Forward(_ context.Context, ev forward.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *recordingForwarder) Events() []forward.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forward.Event(nil), f.events...)
}

type fixture struct {
	db        *db.DB
	gate      *Gate
	forwarder *recordingForwarder
	notifier  *notify.Memory
	r         *Reconciler
}

func setup(t *testing.T, minInterval time.Duration) *fixture {
	t.Helper()
	testutil.QuietLogs(t)
	database := testutil.NewDB(t)

	f := &fixture{
		db:        database,
		gate:      NewGate(minInterval),
		forwarder: &recordingForwarder{},
		notifier:  &notify.Memory{},
	}
	f.r = New(database, f.gate, f.forwarder, f.notifier, "Friends2GIS")
	return f
}

func (f *fixture) seed(t *testing.T, e db.Entity) *db.Entity {
	t.Helper()
	require.NoError(t, f.db.Entities().Upsert(context.Background(), &e))
	return &e
}

func (f *fixture) get(t *testing.T, externalID string) *db.Entity {
	t.Helper()
	e, err := f.db.Entities().GetByExternalID(context.Background(), externalID)
	require.NoError(t, err)
	return e
}

func moving(id string, at time.Time) FriendState {
	return FriendState{
		ExternalID:   id,
		LastSeen:     at,
		Lat:          1,
		Lon:          1,
		Accuracy:     5,
		BatteryLevel: 0.8,
		Charging:     true,
	}
}

func TestApplyFriendState_EndToEnd(t *testing.T) {
	f := setup(t, 0)
	f.seed(t, db.Entity{ExternalID: "A", DisplayName: "Alice", Address: "Home", LastAppliedAt: t0, ForwardEnabled: true})

	state := moving("A", t0.Add(60*time.Second))
	res, err := f.r.ApplyFriendState(context.Background(), state)
	require.NoError(t, err)
	require.True(t, res.Applied)

	got := f.get(t, "A")
	assert.Equal(t, 1.0, got.Lat)
	assert.Equal(t, 1.0, got.Lon)
	assert.Equal(t, 5.0, got.AccuracyMeters)
	assert.Equal(t, 80, got.BatteryPercent)
	assert.True(t, got.BatteryCharging)
	// A stored (0,0) means the friend was never located, so no speed is
	// derived from it (DESIGN.md, Open Question 1).
	assert.Equal(t, 0.0, got.SpeedKPH)
	assert.True(t, got.LastAppliedAt.Equal(t0.Add(60*time.Second)))

	events := f.forwarder.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "A", ev.Device)
	assert.Equal(t, 1.0, ev.Lat)
	assert.Equal(t, 1.0, ev.Lon)
	assert.Equal(t, 5.0, ev.Accuracy)
	assert.Equal(t, "Home", ev.Address)
	assert.Equal(t, 80, ev.Battery)
	assert.Equal(t, 0.0, ev.Speed)
	assert.True(t, ev.Charging)
	assert.Equal(t, "Friends2GIS", ev.Provider)
	assert.True(t, ev.Added.Equal(t0.Add(60*time.Second)))
}

func TestApplyFriendState_ComputesSpeedFromPriorPosition(t *testing.T) {
	f := setup(t, 0)
	f.seed(t, db.Entity{ExternalID: "A", Lat: 55.75, Lon: 37.61, LastAppliedAt: t0})

	state := FriendState{ExternalID: "A", LastSeen: t0.Add(60 * time.Second), Lat: 55.76, Lon: 37.62, BatteryLevel: 0.5}
	res, err := f.r.ApplyFriendState(context.Background(), state)
	require.NoError(t, err)
	require.True(t, res.Applied)

	dist := geo.DistanceMeters(55.75, 37.61, 55.76, 37.62)
	assert.Greater(t, dist, 0.0)
	assert.InDelta(t, dist/60*3.6, res.Entity.SpeedKPH, 0.01)
}

func TestApplyFriendState_SourceSpeedVerbatim(t *testing.T) {
	f := setup(t, 0)
	f.seed(t, db.Entity{ExternalID: "A", Lat: 10, Lon: 10, LastAppliedAt: t0})

	state := moving("A", t0.Add(time.Minute))
	state.Speed = 42.5
	res, err := f.r.ApplyFriendState(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 42.5, res.Entity.SpeedKPH)
}

func TestApplyFriendState_DuplicateTimestampIsNoop(t *testing.T) {
	f := setup(t, 0)
	seeded := f.seed(t, db.Entity{ExternalID: "A", Lat: 10, Lon: 10, BatteryPercent: 50, LastAppliedAt: t0, ForwardEnabled: true})

	res, err := f.r.ApplyFriendState(context.Background(), moving("A", t0))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, ReasonDuplicate, res.Reason)
	assert.Empty(t, f.forwarder.Events())

	got := f.get(t, "A")
	assert.Equal(t, seeded.Lat, got.Lat)
	assert.Equal(t, seeded.BatteryPercent, got.BatteryPercent)
	assert.True(t, got.UpdatedAt.Equal(seeded.UpdatedAt))
}

func TestApplyFriendState_KeepsAccuracyWhenMissing(t *testing.T) {
	f := setup(t, 0)
	f.seed(t, db.Entity{ExternalID: "A", Lat: 10, Lon: 10, AccuracyMeters: 12, LastAppliedAt: t0})

	state := moving("A", t0.Add(time.Minute))
	state.Accuracy = 0
	res, err := f.r.ApplyFriendState(context.Background(), state)
	require.NoError(t, err)
	require.True(t, res.Applied)
	assert.Equal(t, 12.0, f.get(t, "A").AccuracyMeters)
}

func TestApplyFriendState_Noops(t *testing.T) {
	tests := []struct {
		name   string
		seed   *db.Entity
		state  FriendState
		reason string
	}{
		{
			name:   "unknown entity",
			state:  moving("ghost", t0),
			reason: ReasonUnknownEntity,
		},
		{
			name:   "unchanged position and battery",
			seed:   &db.Entity{ExternalID: "A", Lat: 1, Lon: 1, BatteryPercent: 80, LastAppliedAt: t0},
			state:  moving("A", t0.Add(time.Minute)),
			reason: ReasonUnchanged,
		},
		{
			name:   "older than stored",
			seed:   &db.Entity{ExternalID: "A", Lat: 10, Lon: 10, LastAppliedAt: t0},
			state:  moving("A", t0.Add(-time.Minute)),
			reason: ReasonStale,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, 0)
			if tt.seed != nil {
				f.seed(t, *tt.seed)
			}
			res, err := f.r.ApplyFriendState(context.Background(), tt.state)
			require.NoError(t, err)
			assert.False(t, res.Applied)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, f.forwarder.Events())
		})
	}
}

func TestApplyFriendState_BatteryChangeAlone(t *testing.T) {
	f := setup(t, 0)
	f.seed(t, db.Entity{ExternalID: "A", Lat: 1, Lon: 1, BatteryPercent: 81, LastAppliedAt: t0})

	res, err := f.r.ApplyFriendState(context.Background(), moving("A", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 80, res.Entity.BatteryPercent)
}

func TestApplyFriendState_RateLimited(t *testing.T) {
	f := setup(t, time.Minute)
	f.seed(t, db.Entity{ExternalID: "A", Lat: 10, Lon: 10, LastAppliedAt: t0})

	res, err := f.r.ApplyFriendState(context.Background(), moving("A", t0.Add(time.Minute)))
	require.NoError(t, err)
	require.True(t, res.Applied)

	next := moving("A", t0.Add(90*time.Second))
	next.Lat = 2
	res, err = f.r.ApplyFriendState(context.Background(), next)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, ReasonRateLimited, res.Reason)

	next.LastSeen = t0.Add(2 * time.Minute)
	res, err = f.r.ApplyFriendState(context.Background(), next)
	require.NoError(t, err)
	assert.True(t, res.Applied, "update exactly one interval later must be accepted")
}

func TestApplyFriendState_NoopDoesNotCommitGate(t *testing.T) {
	f := setup(t, time.Minute)
	f.seed(t, db.Entity{ExternalID: "A", Lat: 1, Lon: 1, BatteryPercent: 80, LastAppliedAt: t0})

	res, err := f.r.ApplyFriendState(context.Background(), moving("A", t0.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, ReasonUnchanged, res.Reason)

	// The unchanged report was not committed, so real movement shortly
	// afterwards is still accepted.
	next := moving("A", t0.Add(70*time.Second))
	next.Lat = 2
	res, err = f.r.ApplyFriendState(context.Background(), next)
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestApplyFriendState_ForwardFailureKeepsCommit(t *testing.T) {
	f := setup(t, 0)
	f.forwarder.err = errors.New("tracker down")
	f.seed(t, db.Entity{ExternalID: "A", Lat: 10, Lon: 10, LastAppliedAt: t0, ForwardEnabled: true})

	res, err := f.r.ApplyFriendState(context.Background(), moving("A", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Len(t, f.forwarder.Events(), 1)
	assert.Equal(t, 1.0, f.get(t, "A").Lat)
}

func TestApplyFriendState_ForwardDisabled(t *testing.T) {
	f := setup(t, 0)
	f.seed(t, db.Entity{ExternalID: "A", Lat: 10, Lon: 10, LastAppliedAt: t0})

	res, err := f.r.ApplyFriendState(context.Background(), moving("A", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Empty(t, f.forwarder.Events())
}

func TestApplyProfileList(t *testing.T) {
	f := setup(t, 0)
	f.seed(t, db.Entity{ExternalID: "A", DisplayName: "Old", AvatarRef: "old.png", Address: "Home", ForwardEnabled: true})

	err := f.r.ApplyProfileList(context.Background(), []Profile{
		{ExternalID: "A", Name: "Alice"},
		{ExternalID: "B", Name: "Bob", Logo: "bob.png"},
	})
	require.NoError(t, err)

	a := f.get(t, "A")
	assert.Equal(t, "Alice", a.DisplayName)
	assert.Equal(t, "", a.AvatarRef, "missing logo clears the avatar")
	assert.Equal(t, "Home", a.Address)
	assert.True(t, a.ForwardEnabled)

	b := f.get(t, "B")
	assert.Equal(t, "Bob", b.DisplayName)
	assert.Equal(t, "bob.png", b.AvatarRef)
	assert.Equal(t, "", b.Address)
	assert.True(t, b.LastAppliedAt.IsZero())

	notes := f.notifier.All()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "Bob")
	assert.Equal(t, notify.Info, notes[0].Severity)
	assert.Equal(t, "Friends2GIS", notes[0].Source)

	all, err := f.r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestApplyProfileList_ThenFirstState(t *testing.T) {
	f := setup(t, 0)
	require.NoError(t, f.r.ApplyProfileList(context.Background(), []Profile{{ExternalID: "A", Name: "Alice"}}))

	res, err := f.r.ApplyFriendState(context.Background(), moving("A", t0))
	require.NoError(t, err)
	require.True(t, res.Applied)
	assert.Equal(t, 0.0, res.Entity.SpeedKPH)
}
