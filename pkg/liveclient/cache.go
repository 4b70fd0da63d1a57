package liveclient

import "sort"

// CacheState is the client's mirror of the session lists and the active-session banner.
// Stale is set when an event could not be applied as a patch; the owner should refetch.
type CacheState struct {
	Live     []Session
	Upcoming []Session
	History  []Session
	Active   *ActiveSession
	Stale    bool
}

// ApplyEvent returns state with ev applied. It never modifies its input.
func ApplyEvent(state CacheState, ev Event) CacheState {
	next := state.clone()
	switch ev.Name {
	case EventSessionStarted:
		var p SessionEvent
		if ev.Decode(&p) != nil || p.SessionID == "" {
			return next.stale()
		}
		next.Upcoming = without(next.Upcoming, p.SessionID)
		if p.Session == nil {
			return next.stale()
		}
		next.Live = upsertFront(next.Live, *p.Session)
		next.patchActive(*p.Session)
	case EventSessionEnded, EventSessionCancelled:
		var p SessionEvent
		if ev.Decode(&p) != nil || p.SessionID == "" {
			return next.stale()
		}
		next.Live = without(next.Live, p.SessionID)
		next.Upcoming = without(next.Upcoming, p.SessionID)
		next.clearActive(p.SessionID)
		if p.Session == nil {
			// history needs the final record
			return next.stale()
		}
		next.History = upsertFront(next.History, *p.Session)
	case EventSessionDeleted:
		var p SessionEvent
		if ev.Decode(&p) != nil || p.SessionID == "" {
			return next.stale()
		}
		next.Live = without(next.Live, p.SessionID)
		next.Upcoming = without(next.Upcoming, p.SessionID)
		next.History = without(next.History, p.SessionID)
		next.clearActive(p.SessionID)
	case EventSessionUpdated:
		var p SessionEvent
		if ev.Decode(&p) != nil || p.Session == nil {
			return next.stale()
		}
		s := *p.Session
		switch s.Status {
		case StatusScheduled:
			next.Upcoming = upsert(next.Upcoming, s)
			sort.SliceStable(next.Upcoming, func(i, j int) bool {
				return next.Upcoming[i].ScheduledAt.Before(next.Upcoming[j].ScheduledAt)
			})
		case StatusLive:
			next.Upcoming = without(next.Upcoming, s.ID)
			next.Live = upsert(next.Live, s)
		default:
			return next.stale()
		}
		next.patchActive(s)
	case EventParticipantJoined, EventParticipantLeft:
		var p ParticipantEvent
		if ev.Decode(&p) != nil || p.SessionID == "" {
			return next.stale()
		}
		for i := range next.Live {
			if next.Live[i].ID == p.SessionID {
				next.Live[i].ActiveParticipantsCount = p.ActiveParticipantsCount
			}
		}
		if next.Active != nil && next.Active.Session != nil && next.Active.Session.ID == p.SessionID {
			s := *next.Active.Session
			s.ActiveParticipantsCount = p.ActiveParticipantsCount
			next.Active.Session = &s
		}
	case EventActiveSessionChanged:
		var p ActiveSession
		if ev.Decode(&p) != nil {
			return next.stale()
		}
		next.Active = &p
	case EventTransferLeaving, EventDeviceRevoked, EventDevicesAllRevoked,
		EventAuthRefreshed, EventAuthError, EventSubscribed:
		// not cache events
	default:
		return next.stale()
	}
	return next
}

func (s CacheState) clone() CacheState {
	c := CacheState{
		Live:     append([]Session(nil), s.Live...),
		Upcoming: append([]Session(nil), s.Upcoming...),
		History:  append([]Session(nil), s.History...),
		Stale:    s.Stale,
	}
	if s.Active != nil {
		a := *s.Active
		if a.Session != nil {
			sess := *a.Session
			a.Session = &sess
		}
		if a.ActiveOnDevice != nil {
			d := *a.ActiveOnDevice
			a.ActiveOnDevice = &d
		}
		c.Active = &a
	}
	return c
}

func (s CacheState) stale() CacheState {
	s.Stale = true
	return s
}

func (s *CacheState) patchActive(sess Session) {
	if s.Active != nil && s.Active.Session != nil && s.Active.Session.ID == sess.ID {
		s.Active.Session = &sess
	}
}

func (s *CacheState) clearActive(sessionID string) {
	if s.Active != nil && s.Active.Session != nil && s.Active.Session.ID == sessionID {
		s.Active = &ActiveSession{}
	}
}

// Find looks a session up in every list.
func (s CacheState) Find(id string) (Session, bool) {
	for _, list := range [][]Session{s.Live, s.Upcoming, s.History} {
		for _, sess := range list {
			if sess.ID == id {
				return sess, true
			}
		}
	}
	return Session{}, false
}

func without(list []Session, id string) []Session {
	out := list[:0]
	for _, s := range list {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

func upsert(list []Session, s Session) []Session {
	for i := range list {
		if list[i].ID == s.ID {
			list[i] = s
			return list
		}
	}
	return append(list, s)
}

func upsertFront(list []Session, s Session) []Session {
	list = without(list, s.ID)
	return append([]Session{s}, list...)
}
