package telemetry

import (
	"context"

	"projectilelab/server/internal/events"
	"projectilelab/server/internal/lab"
)

// TelemetrySource exposes the lab's live telemetry fan-out.
type TelemetrySource interface {
	SubscribeTelemetry(ctx context.Context) (<-chan lab.Telemetry, func(), error)
}

// EventSource exposes the sequenced lab event stream.
type EventSource interface {
	Events() *events.Stream
}

// CommandSink applies host controls to the lab.
type CommandSink interface {
	Apply(cmd lab.Command) (lab.Snapshot, error)
}

// LabBridge aggregates the dependencies required by the gRPC service.
type LabBridge interface {
	TelemetrySource
	EventSource
	CommandSink
}

var _ LabBridge = (*lab.Lab)(nil)
