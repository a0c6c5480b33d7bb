// Package health provides the health model shared by the relay engine and the
// admin surface.
//
// Three states are supported: healthy, degraded and unhealthy. The engine reports
// one sub-status per active listener and aggregates them; the admin server keeps
// a Monitor with the engine and store statuses and serves the aggregate:
//
//	monitor := health.NewMonitor()
//	monitor.Update("engine", engine.Health())
//	monitor.UpdateDegraded("store", "last save failed")
//	status := monitor.AggregateHealth("udprelay")
//
// Error text exposed through the API passes through SanitizeMessage first.
package health
