package v1

import (
	"serpradio/radar"
	"serpradio/telemetry"
)

// Radar defines the worker interface contract that the v1 router depends on.
type Radar interface {
	LastCycle() (radar.CycleSummary, bool)
}

// Metrics defines the telemetry interface the metrics endpoint gathers from.
type Metrics interface {
	Gather(format string) (telemetry.GatherResponse, error)
}
