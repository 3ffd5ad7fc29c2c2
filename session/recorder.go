package session

import "taskboard/domain"

// DefaultActivityCap is the number of activity entries a session keeps.
const DefaultActivityCap = 50

// Recorder is a fixed-capacity ring of activity entries. Once full, the
// oldest entry is overwritten.
type Recorder struct {
	roster  domain.Roster
	entries []domain.ActivityEntry
	next    int
	full    bool
}

func NewRecorder(capacity int, roster domain.Roster) *Recorder {
	if capacity <= 0 {
		capacity = DefaultActivityCap
	}
	return &Recorder{roster: roster, entries: make([]domain.ActivityEntry, capacity)}
}

// Record appends the entry for ev. title and status describe the task as the
// caller last knew it, used when the event carries no task.
func (r *Recorder) Record(ev domain.Event, title string, status domain.Status) error {
	entry, err := domain.NewActivity(ev, title, status, r.roster)
	if err != nil {
		return err
	}
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

func (r *Recorder) Len() int {
	if r.full {
		return len(r.entries)
	}
	return r.next
}

// Entries lists newest first.
func (r *Recorder) Entries() []domain.ActivityEntry {
	n := r.Len()
	out := make([]domain.ActivityEntry, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		out[i] = r.entries[idx]
	}
	return out
}
