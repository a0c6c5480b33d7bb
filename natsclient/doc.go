// Package natsclient manages a single NATS connection for udprelay.
//
// The client wraps nats.go with a connect retry policy (pkg/retry), slog logging,
// connection-state tracking and a health.Status view. It exposes JetStream and a
// get-or-create helper for Key-Value buckets, which the route store uses.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithLogger(logger),
//		natsclient.WithConnectRetry(retry.DefaultConfig()))
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
//	bucket, err := client.KeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "udprelay_routes"})
//
// # Testing
//
// NewTestClient starts a JetStream-enabled NATS container with testcontainers-go and
// returns a connected client that is torn down by t.Cleanup. Tests using it carry the
// integration build tag.
package natsclient
