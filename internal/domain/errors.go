package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrUnsupportedTool      = errors.New("unsupported tool")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFileTooLarge         = errors.New("file too large")
	ErrNotCompleted         = errors.New("job not completed")
	ErrConflict             = errors.New("job status changed concurrently")
	ErrQueueFull            = errors.New("job queue is full")
	ErrJobTimeout           = errors.New("job timed out")
)
