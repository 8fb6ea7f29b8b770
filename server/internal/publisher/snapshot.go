package publisher

import (
	"encoding/json"
	"time"
)

// Snapshot is one status value. It is built once per cycle and never
// modified after publishing.
type Snapshot struct {
	ConnectedClients int       `json:"clients_count"`
	Timestamp        time.Time `json:"dateTime"`
	UpstreamHealthy  bool      `json:"is_up"`
}

// NewSnapshot builds a Snapshot stamped with now in UTC. A negative client
// count is clamped to zero.
func NewSnapshot(clients int, now time.Time, healthy bool) Snapshot {
	if clients < 0 {
		clients = 0
	}
	return Snapshot{
		ConnectedClients: clients,
		Timestamp:        now.UTC(),
		UpstreamHealthy:  healthy,
	}
}

// Marshal encodes the snapshot as the wire message sent to clients.
func (s Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// EmptyMessage is the cell's value before the first snapshot is published.
var EmptyMessage = []byte("{}")
