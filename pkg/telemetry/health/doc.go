// Package health implements the liveness, readiness and version endpoints.
//
// Components register readiness checks by name:
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("policy", health.PolicyLoaded(store))
//	checker.RegisterCheck("groups", health.Ping("groups", directory))
//
// Liveness always succeeds while the process serves requests. Readiness runs
// every check concurrently, each bounded by the check timeout, and reports
// 503 if any fails.
package health
