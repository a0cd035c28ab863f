package ingestion

// SessionParameters are published to remote workers so they can discard
// samples the session would drop anyway.
type SessionParameters struct {
	MinLatency int64 `json:"minLatency"`
	MaxLatency int64 `json:"maxLatency"`
	// Percentiles are fractions in (0, 1], in ascending order.
	Percentiles []float64 `json:"percentiles"`
}

// InRange reports whether latency lies inside [MinLatency, MaxLatency].
func (p *SessionParameters) InRange(latency int64) bool {
	return latency >= p.MinLatency && latency <= p.MaxLatency
}
