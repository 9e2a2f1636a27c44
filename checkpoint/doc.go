// Package checkpoint persists how far each stream has been written.
//
// A pipeline commits a Record only after its sink write succeeded, so the
// committed offset never runs ahead of the data. On restart the pipeline
// loads the record and resumes strictly after Record.Offset; with no record
// it starts from the earliest retained message. Replaying a batch whose
// commit was lost rewrites the same sink partition, so the pair stays
// exactly-once at the sink.
//
// Two stores are provided:
//
//   - BlobStore writes <root>/checkpoint.json through any storage.Store.
//   - KVStore keeps one key per stream in a NATS KV bucket and commits with
//     compare-and-set.
//
// Both reject a commit whose offset is lower than the stored one with a
// fatal errors.ErrOffsetRegression. Storage failures are transient
// errors.ErrCheckpoint errors, retried by the caller.
//
// The serialized form is
//
//	{"stream":"gps","offset":101,"watermark":"2024-03-01T10:15:00.25Z",
//	 "written_at":"2024-03-01T10:17:02.5Z","run_id":"..."}
//
// where watermark is omitted when no event has been observed.
package checkpoint
