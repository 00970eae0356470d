package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for engine spans and metrics.
var (
	AttrAgentID = attribute.Key("dcop.agent_id")
	AttrPhase   = attribute.Key("dcop.phase")
	AttrStatus  = attribute.Key("dcop.status")
	AttrUrgent  = attribute.Key("dcop.urgent")
)
