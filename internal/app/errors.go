package app

import (
	"fmt"
	"net/http"
)

const (
	CodeNotAuthenticated  = "NOT_AUTHENTICATED"
	CodeNotGroupMember    = "NOT_GROUP_MEMBER"
	CodeVotingClosed      = "VOTING_CLOSED"
	CodeInvalidThreshold  = "INVALID_THRESHOLD"
	CodeProposalNotFound  = "PROPOSAL_NOT_FOUND"
	CodeRoomExpired       = "ROOM_EXPIRED"
	CodeNotParticipant    = "NOT_PARTICIPANT"
	CodeTransientIO       = "TRANSIENT_IO_FAILURE"
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeProposalNotOpen   = "PROPOSAL_NOT_OPEN"
	CodeAlreadyMember     = "ALREADY_MEMBER"
	CodeExportUnavailable = "EXPORT_UNAVAILABLE"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	// Err is the underlying cause, kept for logs and errors.Is.
	Err error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, nil)
}

func notGroupMember() *DomainError {
	return domainError(http.StatusForbidden, CodeNotGroupMember, "You are not a member of this group", nil)
}

func notParticipant() *DomainError {
	return domainError(http.StatusForbidden, CodeNotParticipant, "You are not a participant of this event room", nil)
}

func roomExpired() *DomainError {
	return domainError(http.StatusGone, CodeRoomExpired, "This event room has expired", nil)
}

func roomNotFound() *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, "Event room not found", nil)
}

func proposalNotFound() *DomainError {
	return domainError(http.StatusNotFound, CodeProposalNotFound, "Proposal not found", nil)
}

func notAuthenticated(err error) *DomainError {
	e := domainError(http.StatusUnauthorized, CodeNotAuthenticated, "Not authenticated", nil)
	e.Err = err
	return e
}

// transient wraps a storage or network failure the caller may retry.
func transient(err error) *DomainError {
	e := domainError(http.StatusServiceUnavailable, CodeTransientIO, "Temporarily unavailable, try again", nil)
	e.Err = err
	return e
}
