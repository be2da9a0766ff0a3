// Package trigger talks to the motion sensor over a line-oriented serial link.
//
// The sensor prints text tokens, one per line. WaitForTrigger blocks until a
// line contains one of the configured motion tokens and hands back the
// still-open connection, because the sensor pauses after firing and has to be
// told to resume on the same channel once an attempt ends inconclusively.
//
// # States
//
//	DISCONNECTED → LISTENING → EVENT_RECEIVED
//	                    ↑            │
//	                    └─ RESUME_SENT (Resume writes "resume\n" and closes)
//
// Reads use a short per-read timeout so the loop can observe cancellation.
// A port that cannot be opened, a read failure and a cancelled context all
// come back as a *ConnectivityError; the pipeline treats that as a clean
// shutdown rather than a fault.
package trigger
