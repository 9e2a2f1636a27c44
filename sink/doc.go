// Package sink writes parsed batches to a storage.Store as partition files.
//
// Every batch becomes one object named after the checkpoint offset it will
// be committed under:
//
//	<dataRoot>/batch-<offset, 20 digits>.<parquet|avro|jsonl>
//
// The zero padding keeps partitions in offset order when listed. Because
// the key is a function of the offset alone, a batch replayed after a lost
// checkpoint commit lands on the same key and replaces the earlier write.
//
// ParquetEncoder, the default, writes Snappy-compressed Parquet files with one
// column per schema field. AvroEncoder produces Avro object container files
// with the stream's Avro schema (timestamp-millis longs, nullable fields as
// ["null", T] unions). JSONLinesEncoder writes one JSON object per record in
// schema field order. All of them append the _offset and _late columns.
//
// Reject writes payloads the parser refused to <dataRoot>/_rejected/ with
// the same offset keying.
package sink
