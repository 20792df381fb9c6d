package domain

import "errors"

var (
	// ErrInvalidJob is returned when a delivery body is not a well-formed job.
	// The worker loop stops on it and leaves the delivery unacked.
	ErrInvalidJob = errors.New("invalid job message")

	// ErrGeneration covers every failure between sending the prompt and holding
	// the composed artifact. The delivery is acked without a callback.
	ErrGeneration = errors.New("image generation failed")

	// ErrPublish is returned when the callback could not be published
	ErrPublish = errors.New("failed to publish callback")

	// ErrAck is returned when the broker rejects an acknowledgement
	ErrAck = errors.New("failed to acknowledge delivery")

	// ErrStreamLost is returned when the broker ends the delivery stream with an error
	ErrStreamLost = errors.New("delivery stream lost")
)
