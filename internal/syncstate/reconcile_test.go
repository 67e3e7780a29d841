package syncstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_localStrategy(t *testing.T) {
	local := Data{
		Favorites:    map[string][]string{"src1": {"a"}},
		LastModified: 100,
	}
	remote := Data{
		Favorites:    map[string][]string{"src1": {"b"}},
		LastModified: 200,
	}

	out, conflicts := Reconcile(local, remote, ResolveLocal)
	assert.Equal(t, local.Favorites, out.Favorites)
	assert.Equal(t, int64(200), out.LastModified)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "favorites", conflicts[0].Field)
	assert.Equal(t, int64(100), conflicts[0].LocalTimestamp)
	assert.Equal(t, int64(200), conflicts[0].RemoteTimestamp)
}

func TestReconcile_remoteStrategy(t *testing.T) {
	local := Data{HiddenChannels: []string{"x"}, LastModified: 300}
	remote := Data{HiddenChannels: []string{"y"}, LastModified: 100}

	out, conflicts := Reconcile(local, remote, ResolveRemote)
	assert.Equal(t, []string{"y"}, out.HiddenChannels)
	assert.Equal(t, int64(300), out.LastModified)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "hiddenChannels", conflicts[0].Field)
}

func TestReconcile_mergeUnionsSets(t *testing.T) {
	local := Data{
		Favorites:       map[string][]string{"src1": {"a", "b"}},
		HiddenChannels:  []string{"h1"},
		RecentlyWatched: []string{"r1", "r2"},
		LastModified:    200,
	}
	remote := Data{
		Favorites:       map[string][]string{"src1": {"b", "c"}, "src2": {"d"}},
		HiddenChannels:  []string{"h2"},
		RecentlyWatched: []string{"r2", "r3"},
		LastModified:    100,
	}

	out, conflicts := Reconcile(local, remote, ResolveMerge)
	assert.Equal(t, []string{"a", "b", "c"}, out.Favorites["src1"])
	assert.Equal(t, []string{"d"}, out.Favorites["src2"])
	// Winner's (local, later) ordering comes first in the union.
	assert.Equal(t, []string{"h1", "h2"}, out.HiddenChannels)
	assert.Equal(t, []string{"r1", "r2", "r3"}, out.RecentlyWatched)
	assert.Equal(t, int64(200), out.LastModified)

	// Both sides hold elements the other lacks, so each set field conflicts.
	fields := conflictFields(conflicts)
	assert.Contains(t, fields, "favorites")
	assert.Contains(t, fields, "hiddenChannels")
	assert.Contains(t, fields, "recentlyWatched")
}

func TestReconcile_mergeSupersetIsNotAConflict(t *testing.T) {
	local := Data{
		Favorites:      map[string][]string{"src1": {"a", "b"}},
		HiddenChannels: []string{"h1", "h2"},
		LastModified:   200,
	}
	remote := Data{
		Favorites:      map[string][]string{"src1": {"a"}},
		HiddenChannels: []string{"h1"},
		LastModified:   100,
	}

	out, conflicts := Reconcile(local, remote, ResolveMerge)
	assert.Equal(t, []string{"a", "b"}, out.Favorites["src1"])
	assert.Equal(t, []string{"h1", "h2"}, out.HiddenChannels)
	assert.Empty(t, conflicts)
}

func TestReconcile_mergeScalarLaterWins(t *testing.T) {
	local := Data{
		ChannelOrder: map[string][]string{"src1": {"a", "b"}},
		Preferences:  Preferences{Theme: "dark", TimeFormat: "24h"},
		LastModified: 100,
	}
	remote := Data{
		ChannelOrder: map[string][]string{"src1": {"b", "a"}},
		Preferences:  Preferences{Theme: "light", TimeFormat: "24h"},
		LastModified: 200,
	}

	out, conflicts := Reconcile(local, remote, ResolveMerge)
	assert.Equal(t, remote.ChannelOrder, out.ChannelOrder)
	assert.Equal(t, "light", out.Preferences.Theme)
	assert.Equal(t, "24h", out.Preferences.TimeFormat)
	// Later timestamp decides cleanly; no tie, no conflict.
	assert.Empty(t, conflicts)
}

func TestReconcile_mergeTieBreaksLocal(t *testing.T) {
	local := Data{
		Preferences:  Preferences{Theme: "dark", ShowChannelNumbers: true},
		LastModified: 100,
	}
	remote := Data{
		Preferences:  Preferences{Theme: "light", ShowChannelNumbers: false},
		LastModified: 100,
	}

	out, conflicts := Reconcile(local, remote, ResolveMerge)
	assert.Equal(t, "dark", out.Preferences.Theme)
	assert.True(t, out.Preferences.ShowChannelNumbers)

	fields := conflictFields(conflicts)
	assert.Contains(t, fields, "preferences.theme")
	assert.Contains(t, fields, "preferences.showChannelNumbers")
}

func TestReconcile_parentalSnapshotMovesAsOneUnit(t *testing.T) {
	local := Data{
		ParentalControls: &ParentalSync{Enabled: true, LockedChannels: []string{"ch1"}},
		LastModified:     100,
	}
	remote := Data{
		ParentalControls: &ParentalSync{Enabled: true, LockedChannels: []string{"ch2"}},
		LastModified:     200,
	}

	out, conflicts := Reconcile(local, remote, ResolveMerge)
	require.NotNil(t, out.ParentalControls)
	assert.Equal(t, []string{"ch2"}, out.ParentalControls.LockedChannels)
	assert.Empty(t, conflicts)
}

func TestReconcile_mergeIsIdempotent(t *testing.T) {
	local := Data{
		Favorites:       map[string][]string{"src1": {"a", "b"}},
		ChannelOrder:    map[string][]string{"src1": {"b", "a"}},
		HiddenChannels:  []string{"h1"},
		RecentlyWatched: []string{"r1"},
		Preferences:     Preferences{Theme: "dark"},
		LastModified:    150,
	}
	remote := Data{
		Favorites:       map[string][]string{"src1": {"c"}},
		ChannelOrder:    map[string][]string{"src1": {"a", "b"}},
		HiddenChannels:  []string{"h2"},
		RecentlyWatched: []string{"r2"},
		Preferences:     Preferences{Theme: "light"},
		LastModified:    100,
	}

	merged, _ := Reconcile(local, remote, ResolveMerge)

	// Reconciling the merged result against either input is a no-op with no
	// conflicts: the merged side dominates every set and carries the max
	// timestamp.
	again, conflicts := Reconcile(merged, remote, ResolveMerge)
	assert.Empty(t, conflicts)
	assert.Equal(t, merged, again)

	again, conflicts = Reconcile(merged, local, ResolveMerge)
	assert.Empty(t, conflicts)
	assert.Equal(t, merged, again)
}

func TestReconcile_equalInputsNoConflicts(t *testing.T) {
	d := Data{
		Favorites:      map[string][]string{"src1": {"a"}},
		HiddenChannels: []string{"h1"},
		Preferences:    Preferences{Theme: "dark"},
		LastModified:   100,
	}
	for _, strategy := range []ConflictResolution{ResolveLocal, ResolveRemote, ResolveMerge} {
		out, conflicts := Reconcile(d, d, strategy)
		assert.Empty(t, conflicts, string(strategy))
		assert.Equal(t, d.Preferences, out.Preferences)
		assert.Equal(t, d.LastModified, out.LastModified)
	}
}

func TestSyncer_serializesPerAccount(t *testing.T) {
	s := NewSyncer()
	local := Data{HiddenChannels: []string{"a"}, LastModified: 100}
	remote := Data{HiddenChannels: []string{"b"}, LastModified: 200}

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			out, _ := s.Reconcile("acct", local, remote, ResolveMerge)
			assert.ElementsMatch(t, []string{"a", "b"}, out.HiddenChannels)
			done <- struct{}{}
		}()
	}
	<-done
	<-done
}

func conflictFields(conflicts []Conflict) []string {
	out := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, c.Field)
	}
	return out
}
