package transport

// Capabilities describes how a transport treats acknowledgements. The
// consumer uses it to decide what a rejected message turns into.
type Capabilities struct {
	Name string
	// SupportsNack is true when a nacked message is redelivered by the broker.
	SupportsNack bool
	// SupportsOrdering is true when messages of one topic arrive in publish order.
	SupportsOrdering bool
	// ExternalProducers is true when messages can originate outside this process.
	ExternalProducers bool
}

var capabilities = map[string]Capabilities{
	"channel":  {Name: "channel", SupportsNack: true, SupportsOrdering: true},
	"kafka":    {Name: "kafka", SupportsNack: true, SupportsOrdering: true, ExternalProducers: true},
	"rabbitmq": {Name: "rabbitmq", SupportsNack: true, ExternalProducers: true},
	"nats":     {Name: "nats", SupportsNack: true, ExternalProducers: true},
	"http":     {Name: "http", ExternalProducers: true},
	"aws":      {Name: "aws", SupportsNack: true, ExternalProducers: true},
}

// CapabilitiesOf returns the capabilities registered for system, or a
// zero value carrying only the name when the system is unknown.
func CapabilitiesOf(system string) Capabilities {
	if c, ok := capabilities[system]; ok {
		return c
	}
	return Capabilities{Name: system}
}
