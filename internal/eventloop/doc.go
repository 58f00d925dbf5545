/*
Package eventloop serializes callbacks onto a single logical thread.

Every callback of the handshake (timer ticks, port deliveries, window
message events) runs on a Loop, one at a time, never re-entrantly from
the code that scheduled it. Two implementations are provided:

  - Queue: a goroutine draining a task queue, for production use.
  - Manual: a logical clock driven by Advance and Drain, for tests.
*/
package eventloop
