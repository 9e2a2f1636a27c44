// Package storage defines Store, the key/blob interface that sink partitions
// and checkpoint files are written through.
//
// # Keys
//
// Keys are clean "/"-separated paths without leading or trailing slashes,
// for example:
//
//	city/data/vehicle_data/batch-00000000000000000101.avro
//	city/checkpoints/vehicle_data/checkpoint.json
//
// Join builds keys from elements and ValidateKey rejects keys a backend
// could not represent. The same key layout works on every backend, so a
// deployment can move between local files and the NATS object store by
// configuration alone.
//
// # Overwrite semantics
//
// Put replaces the value at a key as a whole. Sinks rely on this for
// idempotent replay (the same batch written twice lands at the same key)
// and checkpoint stores rely on it for atomic commits.
//
// # Backends
//
//   - storage/filestore writes to a temporary file and renames it into place.
//   - storage/objectstore stores objects in a JetStream object store bucket.
//   - MemoryStore keeps everything in a map and is used by tests.
package storage
