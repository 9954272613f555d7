package domain

import "net/http"

// RequestSpec describes one logical call to the marketplace API.
// Query values are scalars or slices; slices are sent as key[i]=v.
type RequestSpec struct {
	Endpoint string
	Method   string
	Query    map[string]any
	Body     any
	Headers  http.Header
}

// Filters are caller-supplied listing filters, merged over per-category
// defaults by the market domain methods.
type Filters map[string]any
