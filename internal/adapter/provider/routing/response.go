package routing

// routeResponse is the subset of an OSRM /route reply the provider reads.
type routeResponse struct {
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Routes  []apiRoute `json:"routes"`
}

// apiRoute is one alternative; Distance is in metres, Duration in seconds.
type apiRoute struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
}
