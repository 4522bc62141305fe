/*
Package streaming provides timeout-protected streaming for HTTP responses.

Slow or disconnected clients can hold a handler indefinitely while a large
response is written. [TimeoutWriter] bounds every write and the idle time
between writes, splits large writes into flushed chunks, and reports
client disconnects through the request context.

Two uses are built on it:

  - [StreamWithTimeout] copies a reader to the response, used for catalog
    exports.
  - [EventStream] frames Server-Sent Events, used for the catalog change
    feed. Idle detection is off for event streams; the handler sends
    [EventStream.Heartbeat] on a ticker instead.

Errors:

  - [ErrWriteTimeout]: a write or the whole stream exceeded its deadline
  - [ErrClientGone]: the request context was canceled
  - [ErrStreamCanceled]: the writer was closed or timed out idle
*/
package streaming
