package merge

import "github.com/quillforge/inkwell/internal/models"

// BatchMerge merges two record lists in O(L+R): a remote-by-id index is
// built once, each local record is merged against its counterpart (or
// emitted as a push when no counterpart exists), and remote records never
// seen locally are emitted as take-remote verdicts so records created on
// other clients propagate in.
func BatchMerge(local, remote []*models.SyncRecord) []*Verdict {
	remoteByID := make(map[string]*models.SyncRecord, len(remote))
	for _, r := range remote {
		if r != nil {
			remoteByID[r.ID] = r
		}
	}

	verdicts := make([]*Verdict, 0, len(local)+len(remote))
	matched := make(map[string]bool, len(local))

	for _, l := range local {
		if l == nil {
			continue
		}
		r, ok := remoteByID[l.ID]
		if !ok {
			verdicts = append(verdicts, &Verdict{
				RecordID:   l.ID,
				Decision:   DecisionKeepLocal,
				Winner:     WinnerLocal,
				Reason:     "no remote counterpart",
				PushRemote: true,
				Merged:     l,
			})
			continue
		}
		matched[l.ID] = true
		v, err := Merge(l, r)
		if err != nil {
			// Unreachable for indexed pairs; kept for safety.
			continue
		}
		verdicts = append(verdicts, v)
	}

	for _, r := range remote {
		if r == nil || matched[r.ID] {
			continue
		}
		merged := r.Clone()
		merged.LastSyncedAt = Now()
		verdicts = append(verdicts, &Verdict{
			RecordID:    r.ID,
			Decision:    DecisionTakeRemote,
			Winner:      WinnerRemote,
			Reason:      "no local counterpart",
			UpdateLocal: true,
			Merged:      merged,
		})
	}

	return verdicts
}

// Stats aggregates a verdict list for reporting.
type Stats struct {
	LocalWins  int `json:"local_wins"`
	RemoteWins int `json:"remote_wins"`
	Conflicts  int `json:"conflicts"`
	InSync     int `json:"in_sync"`
	Pushes     int `json:"pushes"`
	Updates    int `json:"updates"`
}

// Summarize derives aggregate statistics from a verdict list in one scan.
func Summarize(verdicts []*Verdict) Stats {
	var s Stats
	for _, v := range verdicts {
		if v == nil {
			continue
		}
		switch {
		case v.Decision == DecisionConflict:
			s.Conflicts++
		case v.Winner == WinnerLocal:
			s.LocalWins++
		case v.Winner == WinnerRemote:
			s.RemoteWins++
		default:
			s.InSync++
		}
		if v.PushRemote {
			s.Pushes++
		}
		if v.UpdateLocal {
			s.Updates++
		}
	}
	return s
}
