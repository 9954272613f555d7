package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
	Token    *TokenStatus    `json:"token,omitempty"`
}

// ServiceHealth represents the health of an individual service.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
	Detail      string `json:"detail,omitempty"`
}

// MarketMetrics is returned by GET /v1/metrics/market.
type MarketMetrics struct {
	UpstreamRequests int64   `json:"upstreamRequests"`
	UpstreamErrors   int64   `json:"upstreamErrors"`
	ErrorRate        float64 `json:"errorRate"`
	TokenRefreshes   int64   `json:"tokenRefreshes"`
	TokenFailures    int64   `json:"tokenFailures"`
	CacheHitRate     float64 `json:"cacheHitRate"`
	RelayForwarded   int64   `json:"relayForwarded"`
	RelayRejected    int64   `json:"relayRejected"`
	Period           string  `json:"period"`
}
