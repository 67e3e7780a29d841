package parental

import "github.com/oncue-tv/oncue/internal/catalog"

// FilterVisible applies the visibility rules to a catalog snapshot.
// Pure function of (settings, gate state, channels):
//
//   - gate disabled: everything is visible and unlocked, settings ignored;
//   - hidden channels are excluded from the default list under any other
//     gate state;
//   - locked channels (by id or by group) stay in the list but carry
//     IsLocked=true while the gate is not unlocked.
func FilterVisible(channels []catalog.Channel, settings Settings, gs GateState) []catalog.Channel {
	out := make([]catalog.Channel, 0, len(channels))
	if gs == Disabled {
		for _, ch := range channels {
			ch.IsLocked = false
			out = append(out, ch)
		}
		return out
	}
	hidden := toSet(settings.HiddenChannels)
	lockedCh := toSet(settings.LockedChannels)
	lockedGrp := toSet(settings.LockedGroups)
	for _, ch := range channels {
		if _, hide := hidden[ch.ID]; hide {
			continue
		}
		_, chLocked := lockedCh[ch.ID]
		_, grpLocked := lockedGrp[catalog.GroupID(ch.SourceID, ch.Group)]
		ch.IsLocked = (chLocked || grpLocked) && gs != Unlocked
		out = append(out, ch)
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}
