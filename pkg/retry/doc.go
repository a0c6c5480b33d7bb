// Package retry provides exponential backoff retry for transient failures.
//
// The relay itself never retries: UDP forwarding is best effort. Retry is used
// around the outer collaborators, such as connecting to NATS for the KV route
// store and writing the persisted route table.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return conn.Connect()
//	})
//
// Mark an error with NonRetryable to stop immediately:
//
//	if errors.IsInvalid(err) {
//	    return retry.NonRetryable(err)
//	}
package retry
