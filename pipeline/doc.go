// Package pipeline runs one stream from broker topic to partitioned storage.
//
// A Pipeline moves through Starting, Running and then Stopped or Failed:
//
//	Starting  load the checkpoint (retried within the retry budget), seed
//	          the watermark from it, subscribe after its offset or at the
//	          earliest offset when there is none
//	Running   pull up to BatchSize messages, parse them, tag late records,
//	          append the batch to the sink under its highest offset, then
//	          commit that offset as the new checkpoint
//	Stopped   Stop was called or the context was cancelled
//	Failed    a batch exhausted its retry budget, or a fatal error occurred
//
// Source failures (subscribe and pull) are retried without limit; the
// broker is expected to come back. Messages that fail to parse are counted,
// logged with a payload sample, optionally handed to a Rejecter, and
// skipped. Their offsets still advance the checkpoint.
//
// Delivery to the sink is exactly once as long as the sink is idempotent per
// checkpoint offset: a batch whose commit was lost is pulled again after a
// restart and rewritten under the same offset.
//
// Stop is cooperative. It interrupts a pull that is waiting for messages,
// but a batch that has already been pulled is written and committed before
// the pipeline reports Stopped. Cancelling the context passed to Run is a
// hard stop that abandons the in-flight batch.
package pipeline
