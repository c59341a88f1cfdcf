// Package errors provides coded, actionable error messages for the socketd
// command.
//
// Each error has a code (e.g. "E110") that maps to a short message, a
// detail paragraph and a hint. Engine errors are translated with FromError
// so the CLI reports the failure kind rather than a raw chain:
//
//	if err != nil {
//	    errors.PrintError(errors.FromError(err, "E111"))
//	}
//
//	// ERROR E112: Connection rejected by server
//	//
//	//   The server answered the handshake with Close. Its OnOpen hook
//	//   refused the connection.
//	//
//	//   Hint: Check the handshake parameters in the URL query (tokens, @ name).
package errors
