// Package eventlog defines the line-delimited event log shared by an instrumented test process
// and the harness that supervises it.
//
// # Overview
//
// Goals:
//
//  1. Let the harness observe test progress while the child is still running
//  2. Survive the child being killed at any point, including mid-write
//  3. Produce exactly one result per test that was ever started
//
// # Format
//
// The log is UTF-8 text. Each line holds one JSON object terminated by \n. The "type" field
// selects the event kind:
//
//	{"type":"test_started","nodeid":"tests/test_a.py::test_ok","start":1735689600.0,"location":["tests/test_a.py",3,"test_ok"]}
//	{"type":"test_finished","nodeid":"tests/test_a.py::test_ok","outcome":"passed","when":"call","duration":0.005,"start":1735689600.0,"stop":1735689600.005}
//
// # Fields
//
//   - nodeid: identifies one logical run of one test within a harness run.
//   - start, stop: wall-clock epoch seconds as a float.
//   - duration: seconds as a float.
//   - location: [file, line or null, domain]. Optional.
//   - outcome: passed, failed, skipped, error, xfailed or xpassed.
//   - when: the phase that produced the result (setup, call or teardown).
//   - longrepr: failure detail text. Optional.
//   - sections: captured output as [[title, body], ...]. Optional.
//   - wasxfail: the expected-failure reason. Optional.
//
// # Writing
//
// The file is append-only. Every record is written with a single write call on a file opened
// with O_APPEND, so a reader never observes interleaved records, only a possibly truncated last
// line.
//
// # Reading
//
// [ReadAll] reads a finished log and skips lines that do not decode. [Tail] reads from a byte
// offset and consumes only complete lines, leaving a partial trailing line for the next call.
// [Resolve] turns the raw events into one [Finished] per started test.
package eventlog
