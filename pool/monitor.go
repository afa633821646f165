package pool

// EventType labels a pool lifecycle event.
type EventType string

const (
	EventCreated    EventType = "ConnectionCreated"
	EventCheckedOut EventType = "ConnectionCheckedOut"
	EventCheckedIn  EventType = "ConnectionCheckedIn"
	EventEviction   EventType = "ConnectionEvicted"
	EventDestroyed  EventType = "ConnectionDestroyed"
	EventDrained    EventType = "PoolDrained"
)

// Event summarizes one pool lifecycle event. EventEviction carries the
// fault that removed an idle connection; it is informational and rejects
// nothing.
type Event struct {
	Type     EventType
	ClientID string
	Err      error
}

// Monitor receives pool events. It is called outside the pool lock and may
// call back into the pool.
type Monitor func(Event)

func (p *ConnPool) emit(t EventType, c *Client, cause error) {
	if p.monitor == nil {
		return
	}
	e := Event{Type: t, Err: cause}
	if c != nil {
		e.ClientID = c.ID
	}
	p.monitor(e)
}
