// Package objectstore implements storage.Store on a NATS JetStream object
// store bucket.
//
// Keys map one to one onto object names, so sink partitions and checkpoint
// files use the same layout as on the local file store:
//
//	store, err := objectstore.NewStoreWithConfig(ctx, natsClient, objectstore.Config{
//	    BucketName: "CITYSTREAMS",
//	}, registry, logger)
//
//	err = store.Put(ctx, "city/data/gps_data/batch-00000000000000000042.avro", data)
//
// Put replaces the object; readers see the previous object until the new
// one is complete. Delete leaves a tombstone in the bucket, and List skips
// tombstoned objects.
//
// When a metric registry is passed, the store reports per-operation counts,
// latencies and errors, plus the object count and bytes seen by the last
// List, all labelled with the bucket name.
package objectstore
