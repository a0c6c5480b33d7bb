package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/natsclient"
	"github.com/c360/udprelay/pkg/retry"
	"github.com/c360/udprelay/relay"
)

// KV defaults.
const (
	DefaultBucket = "udprelay_routes"
	DefaultKey    = "routes"
)

// KVOptions configures a KVStore.
type KVOptions struct {
	Bucket  string
	Key     string
	History uint8
	Timeout time.Duration
	// Retry governs Put attempts on Save. The zero value uses retry.DefaultConfig.
	Retry  retry.Config
	Logger *slog.Logger
}

// KVStore keeps the route table under one key of a JetStream KV bucket.
type KVStore struct {
	bucket  jetstream.KeyValue
	key     string
	timeout time.Duration
	retry   retry.Config
	logger  *slog.Logger
}

// NewKVStore opens (creating if needed) the bucket on a connected client.
func NewKVStore(ctx context.Context, client *natsclient.Client, opts KVOptions) (*KVStore, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "KVStore", "New", "nats client cannot be nil")
	}
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.History == 0 {
		opts.History = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultOpTimeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	bucket, err := client.KeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      opts.Bucket,
		Description: "udprelay route table",
		History:     opts.History,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "New", "open KV bucket")
	}

	return &KVStore{
		bucket:  bucket,
		key:     opts.Key,
		timeout: opts.Timeout,
		retry:   opts.Retry,
		logger:  logger.With("component", "store", "backend", BackendNATS, "bucket", opts.Bucket),
	}, nil
}

// Load reads the current revision of the table.
func (s *KVStore) Load(ctx context.Context) (*relay.RouteTable, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	entry, err := s.bucket.Get(ctx, s.key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "Load", "get from KV")
	}

	var table relay.RouteTable
	if err := json.Unmarshal(entry.Value(), &table); err != nil {
		return nil, errors.WrapInvalid(err, "KVStore", "Load", "decode table")
	}

	s.logger.Debug("Route table loaded", "revision", entry.Revision(), "inputs", table.Len())
	return &table, nil
}

// Save puts a new revision of the table.
func (s *KVStore) Save(ctx context.Context, table *relay.RouteTable) error {
	if err := validateTable(table, "KVStore", "Save"); err != nil {
		return err
	}

	data, err := json.Marshal(table)
	if err != nil {
		return errors.WrapFatal(err, "KVStore", "Save", "encode table")
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	// The timeout bounds all attempts together.
	rev, err := retry.DoWithResult(ctx, s.retry, func() (uint64, error) {
		rev, err := s.bucket.Put(ctx, s.key, data)
		if err != nil && (errors.IsInvalid(err) || errors.IsFatal(err)) {
			return 0, retry.NonRetryable(err)
		}
		return rev, err
	})
	if retry.IsNonRetryable(err) {
		return errors.Wrap(err, "KVStore", "Save", "put to KV")
	}
	if err != nil {
		return errors.WrapTransient(err, "KVStore", "Save", "put to KV")
	}

	s.logger.Info("Route table saved", "revision", rev, "inputs", table.Len())
	return nil
}

// Revisions returns how many revisions of the table the bucket retains.
func (s *KVStore) Revisions(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.bucket.History(ctx, s.key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, errors.WrapTransient(err, "KVStore", "Revisions", "read history")
	}
	return len(entries), nil
}
