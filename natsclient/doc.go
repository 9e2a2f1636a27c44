// Package natsclient owns the NATS connection used by citystreams.
//
// A Client dials once and hands out JetStream resources to the rest of the
// service:
//
//   - EnsureStream provisions the stream a JetStream source reads from.
//   - KeyValueBucket backs checkpoint.KVStore.
//   - ObjectStoreBucket backs storage/objectstore.
//
// Resource helpers are get-or-create and tolerate a concurrent creator.
// Connection state is reported to metric.Metrics when WithMetrics is set.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	bucket, err := client.KeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "CITYSTREAMS_CHECKPOINTS"})
//	kv := client.NewKVStore(bucket)
//
// # KVStore
//
// KVStore.UpdateWithRetry is a read-modify-write loop over the bucket's
// revision numbers: the update function sees the current value (nil when
// absent) and the write only lands if nobody else wrote in between.
// Conflicts are retried with backoff; an error from the update function
// stops the loop and is returned as is.
//
// # Testing
//
// NewTestClient starts a nats container through testcontainers-go and
// returns a connected client; it is used by integration tests behind the
// "integration" build tag.
package natsclient
