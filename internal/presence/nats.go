// internal/presence/nats.go
package presence

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cardroom/switchboard/internal/logger"
)

// SubjectPresence is the NATS subject presence events are published to.
const SubjectPresence = "presence.events"

// NATSPublisher mirrors presence transitions onto a NATS subject as
// fire-and-forget events for out-of-process observers such as friend lists.
type NATSPublisher struct {
	nc     *nats.Conn
	logger *logger.Logger
}

func NewNATSPublisher(nc *nats.Conn, logger *logger.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, logger: logger}
}

// Notify publishes the transition to NATS if a connection is available.
func (p *NATSPublisher) Notify(username string, online bool) {
	if p.nc == nil {
		return
	}

	event := map[string]interface{}{
		"username":  username,
		"online":    online,
		"timestamp": time.Now().Unix(),
	}
	if data, err := json.Marshal(event); err == nil {
		if err := p.nc.Publish(SubjectPresence, data); err != nil {
			p.logger.Errorf("Failed to publish presence event to NATS: %v", err)
		}
	} else {
		p.logger.Errorf("Failed to marshal presence event: %v", err)
	}
}
