package domain

import (
	"fmt"
	"time"
)

const (
	InProgressMessage = "Some images have been downloaded!"
	FinishedMessage   = "All images have been downloaded!"
)

// PendingMessage is shown once the backend has queued a job for address.
func PendingMessage(address ContractAddress) string {
	return fmt.Sprintf("A backend job has been kicked off to download the images for %s! "+
		"Check back in a while for the S3 link (~2 min for the first batch of images)", address)
}

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePending    Phase = "pending"
	PhaseInProgress Phase = "in-progress"
	PhaseFinished   Phase = "finished"
)

// View is what one user session currently sees: the last applied message,
// the archive link (only for in-progress/finished) and the last error, if any.
type View struct {
	Address     ContractAddress `json:"address,omitempty"`
	Message     string          `json:"message,omitempty"`
	ArchiveLink string          `json:"archiveLink,omitempty"`
	Status      JobStatus       `json:"status,omitempty"`
	Error       string          `json:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt,omitempty"`
}

func (v View) HasLink() bool  { return v.ArchiveLink != "" }
func (v View) HasError() bool { return v.Error != "" }

func (v View) Phase() Phase {
	switch v.Status {
	case JobPending:
		return PhasePending
	case JobInProgress:
		return PhaseInProgress
	case JobFinished:
		return PhaseFinished
	default:
		return PhaseIdle
	}
}

// Apply folds one query outcome into the current view. Unrecognized statuses
// leave the view untouched. Failed queries keep the message and link already
// on screen and only set Error, with Address pointing at the retry target.
func Apply(prev View, address ContractAddress, o Outcome, now time.Time) View {
	switch o.Kind {
	case OutcomeSuccess:
		next := View{Address: address, Status: o.Response.Status, UpdatedAt: now}
		switch o.Response.Status {
		case JobPending:
			next.Message = PendingMessage(address)
		case JobInProgress:
			next.Message = InProgressMessage
			next.ArchiveLink = o.Response.ArchiveLink
		case JobFinished:
			next.Message = FinishedMessage
			next.ArchiveLink = o.Response.ArchiveLink
		default:
			return prev
		}
		return next
	case OutcomeTransportError, OutcomeDecodeError:
		next := prev
		next.Address = address
		next.Error = ErrorMessage(o)
		next.UpdatedAt = now
		return next
	default:
		return prev
	}
}

// ErrorMessage is the user-facing text for a failed query.
func ErrorMessage(o Outcome) string {
	switch o.Kind {
	case OutcomeTransportError:
		if o.HTTPStatus != 0 {
			return fmt.Sprintf("The archive service answered with HTTP %d. Please retry in a moment.", o.HTTPStatus)
		}
		return "The archive service could not be reached. Please retry in a moment."
	case OutcomeDecodeError:
		return "The archive service sent a response we could not read. Please retry in a moment."
	default:
		return ""
	}
}
