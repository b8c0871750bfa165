// Package harness runs protocol conformance scenarios.
//
// A scenario records a contract from CUE definitions, starts a stub HTTP
// server, and then plays one side of a verification session against a
// real protocol server: it sends requests, waits for results and
// server-initiated events, and calls mock servers the way a language
// connector would. Every frame exchanged is kept in a trace that
// assertions run against.
//
// # Scenario Format
//
//	name: get_things_mismatch
//	description: "A provider returning a numeric id fails body.id"
//	definitions: definitions/things
//	stub:
//	  - path: /things
//	    status: 200
//	    body: { id: 123 }
//	flow:
//	  - send: BEGIN_VERIFICATION
//	    payload: { config: { contractDir: "${contracts}", baseUrl: "${stub}" } }
//	    expect: { status: success }
//	  - send: RUN_VERIFICATION
//	    expect:
//	      status: failure
//	      kind: CASE_FAILED_ASSERTION_ERROR
//	      location: [body.id]
//	assertions:
//	  - type: trace_count
//	    kind: START_TEST_EVENT
//	    count: 0
//	  - type: recorded_runs
//	    consumer: web
//	    provider: things
//	    count: 1
//	    expect: { pass: false }
//
// Steps do exactly one thing:
//
//   - send: write a request. The step waits for its result unless async is
//     set, in which case a later result step waits for it.
//   - await: wait for the next server-initiated request of a kind.
//   - call: make an HTTP request against the baseUrl of the last event.
//   - result: wait for the result of an earlier async send.
//
// # Variables
//
// Strings in payloads and call paths may reference:
//
//   - ${stub}: the stub server URL
//   - ${contracts}: the directory the recorded contract was written to
//   - ${event.id}, ${event.invokerId}, ${event.baseUrl}: the last awaited event
//
// A payload value that is exactly ${result} is replaced by the last
// result received, so a step can echo a verification back in
// RESULT_RESPONSE.
//
// # Assertion Types
//
//   - trace_contains: a frame of kind appears, optionally with a body subset
//   - trace_order: kinds appear in this relative order
//   - trace_count: kind appears exactly count times
//   - recorded_runs: the run database holds count runs for a pair, each
//     matching expect
package harness
