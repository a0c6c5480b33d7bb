// Package admin serves the relay's HTTP administration surface.
//
// The dashboard at /admin/dashboard lists every input with its port, its
// destinations, and when each destination last received a forwarded datagram
// ("Never" when it has not in the current generation). Forms on the page post to:
//
//	POST /admin/add_output     input, host, port
//	POST /admin/remove_output  input, index
//	POST /admin/apply          input, port, outputs (one host:port per line)
//	POST /admin/add_input      input, port, outputs
//	POST /admin/remove_input   input
//
// Each edit derives a new route table from the current one, activates it with
// Relay.Reconfigure, and saves it to the store. Success redirects back to the
// dashboard with 303. A rejected edit re-renders the dashboard with the error:
// 400 for validation and port conflicts, 409 for bind failures. The previous
// table keeps forwarding in both cases.
//
// The JSON API mirrors the same operations:
//
//	GET  /api/config     current table in the persisted format
//	PUT  /api/config     replace the whole table; the body must satisfy the schema
//	GET  /api/config/schema  JSON Schema of the table format
//	GET  /api/stats      per-route last-forward times (RFC 3339 and unix ms) and counters
//	GET  /api/stats/ws   websocket stream of /api/stats every StatsInterval
//	GET  /api/health     aggregated health, 503 when unhealthy
//
// Every response carries an X-Request-ID header.
package admin
