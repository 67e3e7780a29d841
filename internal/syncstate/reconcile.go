package syncstate

import "sync"

// Reconcile merges local and remote user state under the given strategy
// and reports the fields that differed.
//
// Under ResolveLocal / ResolveRemote every differing field is reported and
// the chosen side's value is kept wholesale. Under ResolveMerge:
//
//   - set fields (favorites, hiddenChannels, recentlyWatched) union; a
//     conflict is recorded only when neither side contains the other —
//     a side that is a pure superset is simply ahead, not in conflict;
//   - ordered fields (channelOrder) and scalar fields (preferences
//     sub-fields, the parental snapshot) take the side with the later
//     lastModified; on an exact-timestamp tie local wins and the tie is
//     recorded as a conflict.
//
// The result's lastModified is max(local, remote), so reconciling an
// already-merged result against either input changes nothing.
func Reconcile(local, remote Data, strategy ConflictResolution) (Data, []Conflict) {
	var conflicts []Conflict
	record := func(field string, lv, rv any) {
		conflicts = append(conflicts, Conflict{
			Field:           field,
			LocalValue:      lv,
			RemoteValue:     rv,
			LocalTimestamp:  local.LastModified,
			RemoteTimestamp: remote.LastModified,
		})
	}

	maxTS := local.LastModified
	if remote.LastModified > maxTS {
		maxTS = remote.LastModified
	}

	if strategy != ResolveMerge {
		out := local
		if strategy == ResolveRemote {
			out = remote
		}
		diffFields(local, remote, record)
		out.LastModified = maxTS
		return out, conflicts
	}

	localWins := local.LastModified >= remote.LastModified
	tie := local.LastModified == remote.LastModified

	out := Data{LastModified: maxTS}

	out.Favorites = mergeIDMap(local.Favorites, remote.Favorites)
	if !idMapDominates(local.Favorites, remote.Favorites) && !idMapDominates(remote.Favorites, local.Favorites) {
		record("favorites", local.Favorites, remote.Favorites)
	}

	out.HiddenChannels = unionOrdered(pickSlice(localWins, local.HiddenChannels, remote.HiddenChannels))
	if !setDominates(local.HiddenChannels, remote.HiddenChannels) && !setDominates(remote.HiddenChannels, local.HiddenChannels) {
		record("hiddenChannels", local.HiddenChannels, remote.HiddenChannels)
	}

	out.RecentlyWatched = unionOrdered(pickSlice(localWins, local.RecentlyWatched, remote.RecentlyWatched))
	if !setDominates(local.RecentlyWatched, remote.RecentlyWatched) && !setDominates(remote.RecentlyWatched, local.RecentlyWatched) {
		record("recentlyWatched", local.RecentlyWatched, remote.RecentlyWatched)
	}

	if orderedMapsEqual(local.ChannelOrder, remote.ChannelOrder) {
		out.ChannelOrder = local.ChannelOrder
	} else {
		if localWins {
			out.ChannelOrder = local.ChannelOrder
		} else {
			out.ChannelOrder = remote.ChannelOrder
		}
		if tie {
			record("channelOrder", local.ChannelOrder, remote.ChannelOrder)
		}
	}

	out.Preferences = mergePreferences(local.Preferences, remote.Preferences, localWins, tie, record)

	switch {
	case parentalEqual(local.ParentalControls, remote.ParentalControls):
		out.ParentalControls = local.ParentalControls
	case localWins:
		out.ParentalControls = local.ParentalControls
		if tie {
			record("parentalControls", local.ParentalControls, remote.ParentalControls)
		}
	default:
		out.ParentalControls = remote.ParentalControls
	}

	return out, conflicts
}

// diffFields records every differing field; used by the local/remote
// strategies where conflicts are purely diagnostic.
func diffFields(local, remote Data, record func(string, any, any)) {
	if !idMapEqual(local.Favorites, remote.Favorites) {
		record("favorites", local.Favorites, remote.Favorites)
	}
	if !sliceEqual(local.HiddenChannels, remote.HiddenChannels) {
		record("hiddenChannels", local.HiddenChannels, remote.HiddenChannels)
	}
	if !sliceEqual(local.RecentlyWatched, remote.RecentlyWatched) {
		record("recentlyWatched", local.RecentlyWatched, remote.RecentlyWatched)
	}
	if !orderedMapsEqual(local.ChannelOrder, remote.ChannelOrder) {
		record("channelOrder", local.ChannelOrder, remote.ChannelOrder)
	}
	if local.Preferences != remote.Preferences {
		record("preferences", local.Preferences, remote.Preferences)
	}
	if !parentalEqual(local.ParentalControls, remote.ParentalControls) {
		record("parentalControls", local.ParentalControls, remote.ParentalControls)
	}
}

func mergePreferences(l, r Preferences, localWins, tie bool, record func(string, any, any)) Preferences {
	out := l
	if !localWins {
		out = r
	}
	// Per-sub-field: a field that differs takes the winning side; on a tie
	// local wins and the field is flagged.
	mergeStr := func(name string, lv, rv string, dst *string) {
		if lv == rv {
			*dst = lv
			return
		}
		if localWins {
			*dst = lv
		} else {
			*dst = rv
		}
		if tie {
			record("preferences."+name, lv, rv)
		}
	}
	mergeStr("theme", l.Theme, r.Theme, &out.Theme)
	mergeStr("defaultTab", l.DefaultTab, r.DefaultTab, &out.DefaultTab)
	mergeStr("timeFormat", l.TimeFormat, r.TimeFormat, &out.TimeFormat)
	mergeStr("channelListMode", l.ChannelListMode, r.ChannelListMode, &out.ChannelListMode)
	if l.ShowChannelNumbers != r.ShowChannelNumbers {
		if localWins {
			out.ShowChannelNumbers = l.ShowChannelNumbers
		} else {
			out.ShowChannelNumbers = r.ShowChannelNumbers
		}
		if tie {
			record("preferences.showChannelNumbers", l.ShowChannelNumbers, r.ShowChannelNumbers)
		}
	}
	return out
}

// ── set/map helpers ──────────────────────────────────────────────────────────

// pickSlice returns winner then loser so unionOrdered keeps the winning
// side's ordering first.
func pickSlice(localWins bool, l, r []string) ([]string, []string) {
	if localWins {
		return l, r
	}
	return r, l
}

// unionOrdered unions two lists preserving first-seen order.
func unionOrdered(first, second []string) []string {
	seen := make(map[string]struct{}, len(first)+len(second))
	out := make([]string, 0, len(first)+len(second))
	for _, list := range [2][]string{first, second} {
		for _, v := range list {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func setDominates(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func mergeIDMap(a, b map[string][]string) map[string][]string {
	out := make(map[string][]string, len(a)+len(b))
	for k, v := range a {
		out[k] = unionOrdered(v, nil)
	}
	for k, v := range b {
		out[k] = unionOrdered(out[k], v)
	}
	return out
}

func idMapDominates(a, b map[string][]string) bool {
	for k, bv := range b {
		if !setDominates(a[k], bv) {
			return false
		}
	}
	return true
}

func idMapEqual(a, b map[string][]string) bool {
	return idMapDominates(a, b) && idMapDominates(b, a)
}

func orderedMapsEqual(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !sliceEqual(av, bv) {
			return false
		}
	}
	return true
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func parentalEqual(a, b *ParentalSync) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Enabled != b.Enabled ||
		!sliceEqual(a.LockedChannels, b.LockedChannels) ||
		!sliceEqual(a.LockedGroups, b.LockedGroups) {
		return false
	}
	at, bt := a.TimeRestrictions, b.TimeRestrictions
	if at == nil || bt == nil {
		return at == bt
	}
	return *at == *bt
}

// ── per-account serialization ────────────────────────────────────────────────

// Syncer serializes reconciliations per account: a reconcile requested
// while a prior one for the same account is in flight waits for it instead
// of running concurrently, preserving the idempotence property.
type Syncer struct {
	mu       sync.Mutex
	accounts map[string]*sync.Mutex
}

func NewSyncer() *Syncer {
	return &Syncer{accounts: make(map[string]*sync.Mutex)}
}

// Reconcile runs Reconcile serialized against other calls for account.
func (s *Syncer) Reconcile(account string, local, remote Data, strategy ConflictResolution) (Data, []Conflict) {
	s.mu.Lock()
	m, ok := s.accounts[account]
	if !ok {
		m = &sync.Mutex{}
		s.accounts[account] = m
	}
	s.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return Reconcile(local, remote, strategy)
}
