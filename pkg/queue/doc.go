// Package queue implements the JSON-over-stdio protocol between the
// controller and a remote solve runner.
//
// The runner announces itself with a READY message, then consumes SUBMIT
// messages, acknowledging each with ACK and answering with exactly one
// RESULT or ERROR. An EXIT message ends the session. Every message is one
// JSON object per line, so the protocol works unmodified over pipes, SSH
// channels, and sockets.
//
// Remote implements solver.Adapter on top of the protocol, so a runner on
// the far side of any byte stream plugs into the dispatcher like a local
// backend.
package queue
