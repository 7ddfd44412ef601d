package api

// registerMetricsRoutes exposes the Prometheus collectors. The handler is
// mounted on the mux directly so it bypasses auth and the OpenAPI schema.
func (s *Server) registerMetricsRoutes() {
	if s.options.PrometheusHandler == nil {
		return
	}
	s.mux.Handle("GET /metrics", s.options.PrometheusHandler)
}
