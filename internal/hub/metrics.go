package hub

import "time"

type Metrics struct {
	Clients       int `json:"clients"`
	Users         int `json:"users"`
	Rooms         int `json:"rooms"`
	ActiveStreams int `json:"active_streams"`
	QueueDepths   struct {
		Inbox    int `json:"inbox"`
		Join     int `json:"join"`
		Leave    int `json:"leave"`
		Finalize int `json:"finalize"`
	} `json:"queue_depths"`
}

// Metrics snapshots loop-owned counters through the loop itself. Returns the
// zero value if the hub is busy or stopped.
func (h *Hub) Metrics() Metrics {
	ch := make(chan Metrics, 1)
	select {
	case h.metricsq <- ch:
	case <-h.done:
		return Metrics{}
	case <-time.After(time.Second):
		return Metrics{}
	}
	select {
	case m := <-ch:
		return m
	case <-h.done:
		return Metrics{}
	}
}

func (h *Hub) metricsLocked() Metrics {
	var m Metrics
	m.Clients = len(h.clients)
	m.Users = len(h.byUser)
	m.Rooms = len(h.rooms)
	m.ActiveStreams = len(h.streams)
	m.QueueDepths.Inbox = len(h.inbox)
	m.QueueDepths.Join = len(h.join)
	m.QueueDepths.Leave = len(h.leave)
	m.QueueDepths.Finalize = len(h.finalize)
	return m
}
