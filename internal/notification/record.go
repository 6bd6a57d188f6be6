package notification

import (
	"cmp"
	"slices"
	"time"
)

// Reason explains why the server generated a notification.
type Reason string

const (
	ReasonMentioned   Reason = "mentioned"
	ReasonAssigned    Reason = "assigned"
	ReasonResponsible Reason = "responsible"
	ReasonWatched     Reason = "watched"
	ReasonCommented   Reason = "commented"
	ReasonOther       Reason = "other"
)

// ParseReason maps a server reason to a known Reason. Unknown values map
// to ReasonOther.
func ParseReason(s string) Reason {
	switch r := Reason(s); r {
	case ReasonMentioned, ReasonAssigned, ReasonResponsible, ReasonWatched, ReasonCommented:
		return r
	default:
		return ReasonOther
	}
}

// Resource is the object a notification is about.
type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Links are the action and navigation links of a notification.
type Links struct {
	ReadHref     string `json:"read_href,omitempty"`
	UnreadHref   string `json:"unread_href,omitempty"`
	ResourceHref string `json:"resource_href,omitempty"`
	ProjectHref  string `json:"project_href,omitempty"`
}

// Record is a single server notification. ID is its only stable identity.
type Record struct {
	ID        int64     `json:"id"`
	Reason    Reason    `json:"reason"`
	Read      bool      `json:"read"`
	Message   string    `json:"message,omitempty"`
	Resource  *Resource `json:"resource,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Links     Links     `json:"links"`
}

func (r Record) clone() Record {
	if r.Resource != nil {
		res := *r.Resource
		r.Resource = &res
	}
	return r
}

// Snapshot is the last known notification set, ordered by ID.
type Snapshot struct {
	Records     []Record  `json:"records"`
	UnreadCount int       `json:"unread_count"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// NewSnapshot sorts records by ID and derives the unread count.
func NewSnapshot(records []Record, fetchedAt time.Time) Snapshot {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	slices.SortFunc(sorted, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })

	return Snapshot{
		Records:     sorted,
		UnreadCount: countUnread(sorted),
		FetchedAt:   fetchedAt,
	}
}

// Find returns the record with id.
func (s Snapshot) Find(id int64) (Record, bool) {
	i, ok := s.index(id)
	if !ok {
		return Record{}, false
	}
	return s.Records[i], true
}

func (s Snapshot) index(id int64) (int, bool) {
	return slices.BinarySearchFunc(s.Records, id, func(r Record, id int64) int { return cmp.Compare(r.ID, id) })
}

// IDs returns the set of record IDs.
func (s Snapshot) IDs() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(s.Records))
	for _, r := range s.Records {
		ids[r.ID] = struct{}{}
	}
	return ids
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Records = make([]Record, len(s.Records))
	for i, r := range s.Records {
		out.Records[i] = r.clone()
	}
	return out
}

// NewlyUnread returns the records of next that are unread and absent from
// prev. Records that existed before and merely changed are never included.
func NewlyUnread(prev, next Snapshot) []Record {
	old := prev.IDs()
	var out []Record
	for _, r := range next.Records {
		if _, seen := old[r.ID]; seen || r.Read {
			continue
		}
		out = append(out, r.clone())
	}
	return out
}

// NoLongerUnread returns the ids unread in prev that are read or gone in
// next.
func NoLongerUnread(prev, next Snapshot) []int64 {
	var out []int64
	for _, r := range prev.Records {
		if r.Read {
			continue
		}
		if i, ok := next.index(r.ID); ok && !next.Records[i].Read {
			continue
		}
		out = append(out, r.ID)
	}
	return out
}

func countUnread(records []Record) int {
	n := 0
	for _, r := range records {
		if !r.Read {
			n++
		}
	}
	return n
}
