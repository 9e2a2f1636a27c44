// Package supervisor starts one goroutine per stream pipeline and joins them.
//
// The supervisor is the single shutdown point of the process. StopAll
// signals every pipeline, lets each finish the batch it is writing, and
// returns when all of them are terminal; if the shutdown context expires
// first, the stragglers are cancelled and their in-flight batches are left
// uncommitted for the next run to replay.
//
// Pipelines are isolated from each other: an error or even a panic in one
// stream marks only that stream Failed. Failed and Health report the
// outcome; the command exits non-zero when Failed is non-empty.
//
// Basic usage:
//
//	sup, err := supervisor.New(logger, pipelines...)
//	if err != nil {
//		return err
//	}
//	if err := sup.Start(ctx); err != nil {
//		return err
//	}
//	<-shutdownSignal
//	err = sup.StopAll(shutdownCtx)
package supervisor
