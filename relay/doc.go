// Package relay forwards UDP datagrams from input ports to configured destinations
// and swaps the whole topology at runtime.
//
// # Overview
//
// A RouteTable maps input names to a port and an ordered destination list. It is
// immutable; BuildRouteTable validates raw configuration into one. The Engine owns
// the active generation: the table, one Listener per input, and a StatsRegistry
// recording the last successful forward per (input, destination) route.
//
//	table, err := relay.BuildRouteTable([]relay.RawInput{
//		{Name: "input_1", Port: 5001, Outputs: []string{"10.0.0.5:6000", "[::1]:6001"}},
//	})
//	if err != nil {
//		return err // errors.ErrValidation
//	}
//	engine, err := relay.NewEngine(relay.EngineDeps{Logger: logger})
//	if err != nil {
//		return err
//	}
//	if err := engine.Reconfigure(ctx, table); err != nil {
//		return err // errors.ErrConflict or errors.ErrBind
//	}
//	defer engine.Shutdown(context.Background())
//
// # Reconfiguration
//
// Reconfigure validates the table, stops every current listener, then starts the new
// set against a fresh StatsRegistry. Because old sockets are closed before new ones
// bind, a datagram is forwarded by at most one generation. If a new listener fails to
// bind, the listeners already started are stopped and the previous table is restored
// with its stats; the bind error is returned.
//
// Readers (Stats, CurrentTable, Generation, View) never block on Reconfigure and
// always see one whole generation. View returns all of them from a single read; while
// no generation is active its table is the one the engine last failed to bind.
//
// # Forwarding
//
// Each listener sends from its own socket, so receivers see the input port as the
// source port. Destinations are resolved on first use and cached. A failed send is
// logged and counted and never affects other destinations or later datagrams.
// Datagrams larger than the configured maximum are dropped.
package relay
