/*
Package tracing records timed spans for API requests and outbound cache
fetches and writes them to the structured log.

A trace id ties together an API call and the cache requests it causes:
HTTPMiddleware continues the caller's X-Trace-ID (or starts a new trace),
and Inject copies the current trace onto outbound requests such as the
prefetcher's.

	tracer := tracing.New("ampviewer", logger, 0)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.Start(ctx, "prefetch")
	defer span.End()
	tracing.Inject(ctx, req.Header)

Finished spans go through a bounded buffer; when it is full spans are
dropped and counted rather than blocking the caller. Successful spans log
at Debug, failed ones at Warn.
*/
package tracing
