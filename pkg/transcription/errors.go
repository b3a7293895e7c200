package transcription

import "errors"

var (
	ErrAlreadyRecording = errors.New("already recording or starting")

	ErrNotRecording = errors.New("not currently recording")

	ErrNilProvider = errors.New("required provider is nil")

	ErrContextCancelled = errors.New("operation cancelled by context")
)
