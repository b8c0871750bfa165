// Package protocol serves verification sessions to remote callers.
//
// A caller opens a stream (stdio, websocket) and drives one session over
// it:
//
//	BEGIN_VERIFICATION            -> RESULT {verificationId}
//	LOAD_PLUGIN (optional)        -> RESULT {loaded}
//	AVAILABLE_CONTRACT_DEFINITIONS -> RESULT [definitions]
//	RUN_VERIFICATION              -> RESULT report(s)
//
// Interactions whose read side needs the caller's own code (a mock server
// the caller's client must call) are delegated. The server sends
// START_TEST_EVENT{testName, invokerId, info}; the caller runs its test
// body against info, sends INVOKE_TEST{invokerId} and receives the
// verification result, then answers the event id with RESULT_RESPONSE.
//
// Every request is handled on its own goroutine so a run can wait on
// RESULT_RESPONSE while INVOKE_TEST is being served. A single writer
// goroutine owns the stream's send side.
package protocol
