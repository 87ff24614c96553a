/*
Package middleware provides the HTTP middleware shared by every route of the
Socratic gateway.

# Components

  - RequestIDMiddleware assigns a UUID per request, stores it in the context
    (GetRequestID) and echoes it in the X-Request-ID response header.
  - LoggingMiddleware emits "request started" and "request completed" records
    through slog. Handlers enrich the completion record with AddLogField and
    AddError.
  - TimeoutMiddleware bounds non-streaming routes. Streaming routes are
    mounted outside it and rely on client cancellation instead.
  - SetRateLimitHeaders and SetRetryAfter write the limiter's verdict onto a
    response.

# Chain Order

 1. RequestIDMiddleware
 2. LoggingMiddleware
 3. Recoverer (chi)
 4. OTel instrumentation
 5. TimeoutMiddleware (non-streaming route groups only)
*/
package middleware
