/*
Package tracing provides lightweight request tracing.

Each proxied request gets a span. The trace continues across the upstream
fetch: the fetch client starts a child span and forwards X-Trace-ID and
X-Span-ID, so an origin or CDN log line can be joined with ours. Finished
spans are buffered and written to the structured log by a single collector.

# Usage

	tracer := tracing.New("shellcache", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "fetch")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
	tracing.Inject(ctx, header)

Malformed incoming trace headers are ignored and a fresh trace is started.
*/
package tracing
