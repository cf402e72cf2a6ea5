// Package server exposes the limits engine over HTTP.
//
// NewRouter builds the chi router and Server runs it with graceful
// shutdown. The /v1 routes serve acquisitions and the administrative
// operations (list, replenish, reload) and sit behind an optional bearer
// token. Health, readiness, version and metrics endpoints are always open.
//
// # Basic Usage
//
//	router := server.NewRouter(server.Options{
//	    Engine:     mgr,
//	    Reloader:   reloader,
//	    Health:     checker,
//	    Registry:   reg,
//	    AdminToken: cfg.Server.AdminToken,
//	    Logger:     logger,
//	})
//	srv := server.New(cfg.Server, router, logger)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// Start blocks until ctx is cancelled, then drains in-flight requests.
//
// # Middleware
//
// Every request passes through Recovery, RequestID, trace extraction,
// Logging and, when configured, HTTP metrics. Errors are returned as
// {"error": "..."} bodies.
package server
