package service

import "errors"

var (
	// ErrInvalidTaskType indicates the requested type token is not recognised for the operation.
	ErrInvalidTaskType = errors.New("invalid task type")
	// ErrTaskNotFound indicates the referenced task does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrSubmissionNotFound indicates no submission exists for the given user and task.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrTaskTypeMismatch indicates the task is not classified as the requested type.
	ErrTaskTypeMismatch = errors.New("task type mismatch")
	// ErrInvalidProblemReference indicates a problem answer references an unknown problem.
	ErrInvalidProblemReference = errors.New("invalid problem id")
	// ErrInvalidAnswerPayload indicates an answer field could not be decoded.
	ErrInvalidAnswerPayload = errors.New("invalid answer payload")
	// ErrInvalidScore indicates the supplied score is not a number.
	ErrInvalidScore = errors.New("score must be a valid number")
	// ErrUploadTooLarge indicates an uploaded file exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadTypeNotAllowed indicates the MIME type of an uploaded file is not permitted.
	ErrUploadTypeNotAllowed = errors.New("file type not allowed")
)

// isClientError reports whether err stems from the request rather than the system.
func isClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidTaskType,
		ErrTaskNotFound,
		ErrSubmissionNotFound,
		ErrTaskTypeMismatch,
		ErrInvalidProblemReference,
		ErrInvalidAnswerPayload,
		ErrInvalidScore,
		ErrUploadTooLarge,
		ErrUploadTypeNotAllowed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
