package domain

import "context"

// StatusCache stores the latest strategy status snapshot for dashboards.
type StatusCache interface {
	SetStatus(ctx context.Context, status StrategyStatus) error
	GetStatus(ctx context.Context, strategy string) (StrategyStatus, error)
}

// SignalBus publishes raw payloads to named channels for external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
