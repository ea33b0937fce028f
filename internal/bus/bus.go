package bus

import (
	"fmt"

	"github.com/opencompliance/corelink/internal/domain"
)

// New creates an event bus from configuration. ChannelBus serves
// single-node deployments; NATSBus serves distributed ones.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
