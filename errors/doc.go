// Package errors provides the error taxonomy for citystreams pipelines.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, skipped) and Fatal (unrecoverable, stop the pipeline). The
// pipeline engine decides between retrying a batch, skipping a record and
// failing a pipeline purely from this classification.
//
// # Domain errors
//
//   - ParseError: a raw payload failed structural validation or coercion.
//     Classified Invalid; the offending message is skipped.
//   - ErrSink / ErrCheckpoint: a batch could not be written or committed.
//     Classified Transient; the whole batch is retried within the retry budget.
//   - ErrSourceUnavailable: the broker could not be reached. Classified
//     Transient; retried indefinitely.
//   - ErrConfiguration: missing or invalid configuration, or an unregistered
//     stream kind. Classified Fatal; reported at startup, never retried.
//   - ErrOffsetRegression: a checkpoint commit tried to move backwards.
//     Classified Fatal.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: <cause>"
//
// Example:
//
//	if err := store.Put(ctx, key, data); err != nil {
//	    return errors.SinkFailure(err, "Writer", "Append", "put batch")
//	}
//
// The wrapped error still satisfies errors.Is(err, errors.ErrSink) and
// errors.IsTransient(err).
package errors
