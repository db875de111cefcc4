// Package httpserver provides the relay's HTTP server shell: standard
// health endpoints, request logging, readiness control for load balancers,
// an optional metrics listener, and graceful shutdown.
//
// Application routes are mounted through the RouteRegistrar interface so
// the API surface stays in the relay package while lifecycle concerns
// live here.
//
//	srv, err := httpserver.New(cfg, apiHandler)
//	if err != nil { ... }
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
