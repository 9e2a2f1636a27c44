// Package testutil provides in-memory doubles for citystreams tests.
//
// MockSource is a broker implementing source.Source. Offsets are assigned
// per topic, subscriptions honour their start position, and Subscribe or
// Pull can be told to fail to exercise source retries. OnPull lets a test
// act at the moment a batch leaves the broker, for example to stop a
// pipeline mid-batch.
//
// MockAppender stands in for the sink writer, recording every batch and
// failing on demand. FlakyStore wraps any storage.Store and fails a set
// number of reads or writes, which drives the checkpoint and sink retry
// paths against real store implementations.
//
// Payload and Payloads build valid JSON for each stream kind; the
// MalformedPayloads table holds inputs every stream must reject.
//
// Example:
//
//	src := testutil.NewMockSource()
//	src.Publish("gps_data", testutil.Payloads(schema.GPS, 10)...)
//
//	appender := testutil.NewMockAppender()
//	appender.FailNext(2, nil)
package testutil
