package engine

import "errors"

var (
	// ErrGenerationInFlight is returned when the conversation is already
	// generating a reply. The model is not called a second time.
	ErrGenerationInFlight = errors.New("engine: generation already in flight")
	// ErrNothingPending means there is no unanswered user message to reply to.
	ErrNothingPending = errors.New("engine: no pending user turn")
	// ErrEmptyMessage rejects blank user input.
	ErrEmptyMessage = errors.New("engine: empty message")
)
