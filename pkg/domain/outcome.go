package domain

import (
	"errors"
	"fmt"
)

type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeTransportError OutcomeKind = "transport_error"
	OutcomeDecodeError    OutcomeKind = "decode_error"
)

// Outcome is the result of one status query. Exactly one branch is populated:
// Success carries Response, TransportError carries Cause (and HTTPStatus when
// the server answered with a non-2xx code), DecodeError carries Cause and Body.
type Outcome struct {
	Kind       OutcomeKind
	Response   StatusResponse
	Cause      error
	HTTPStatus int
	Body       []byte
}

func Success(resp StatusResponse) Outcome {
	return Outcome{Kind: OutcomeSuccess, Response: resp}
}

func TransportError(err error, httpStatus int) Outcome {
	if err == nil {
		err = errors.New("transport failure")
	}
	return Outcome{Kind: OutcomeTransportError, Cause: err, HTTPStatus: httpStatus}
}

func DecodeError(err error, body []byte) Outcome {
	if err == nil {
		err = errors.New("malformed response body")
	}
	return Outcome{Kind: OutcomeDecodeError, Cause: err, Body: body}
}

func (o Outcome) IsSuccess() bool { return o.Kind == OutcomeSuccess }

// Err returns nil for successes and a descriptive error otherwise.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeTransportError:
		if o.HTTPStatus != 0 {
			return fmt.Errorf("backend returned HTTP %d: %w", o.HTTPStatus, o.Cause)
		}
		return fmt.Errorf("backend unreachable: %w", o.Cause)
	case OutcomeDecodeError:
		return fmt.Errorf("unreadable backend response: %w", o.Cause)
	default:
		return fmt.Errorf("unknown outcome kind %q", o.Kind)
	}
}

// StatusLabel is the status value used for metrics and logs.
func (o Outcome) StatusLabel() string {
	if o.Kind != OutcomeSuccess {
		return "none"
	}
	if !o.Response.Status.IsKnown() {
		return "unrecognized"
	}
	return string(o.Response.Status)
}
