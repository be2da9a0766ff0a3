// Package pipeline runs the intruder detection state machine.
//
// One run walks:
//
//	IDLE → AWAITING_TRIGGER → CAPTURING → CLASSIFYING → AUTHORIZED_TERMINAL
//	                                                   → INTRUDER_TERMINAL
//	                                                   → RESUMING → AWAITING_TRIGGER
//	AWAITING_TRIGGER → SHUTDOWN
//
// A run ends at the first decisive classification, or at SHUTDOWN when the
// trigger channel cannot be reached (which includes cancellation). An
// inconclusive attempt writes no record; the trigger device is told to
// resume scanning and the run waits again.
//
// Stages of one attempt execute strictly in order. The capture device is
// released before classification starts.
//
// Every transition is reported twice: to slog for operators, and to the
// caller's LogFunc as a short human-readable line (the task log stream).
package pipeline
