package domain

import (
	"encoding"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// JobStatus is the archival job state reported by the collections backend.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in-progress"
	JobFinished   JobStatus = "finished"
)

var (
	_ encoding.BinaryMarshaler = JobStatus("")
	_ encoding.TextMarshaler   = JobStatus("")
)

func (s JobStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s JobStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

// IsKnown reports whether s is one of the three values the backend is allowed to send.
func (s JobStatus) IsKnown() bool {
	switch s {
	case JobPending, JobInProgress, JobFinished:
		return true
	}
	return false
}

// ParseJobStatus returns the status and whether it is recognized. The raw value
// is kept either way so callers can log what the backend actually sent.
func ParseJobStatus(raw string) (JobStatus, bool) {
	s := JobStatus(raw)
	return s, s.IsKnown()
}

// ContractAddress identifies an NFT collection. It is forwarded to the backend
// exactly as typed; the helpers below are display hints only.
type ContractAddress string

func (a ContractAddress) String() string { return string(a) }

// Trimmed drops surrounding whitespace picked up from form fields and terminals.
func (a ContractAddress) Trimmed() ContractAddress {
	return ContractAddress(strings.TrimSpace(string(a)))
}

func (a ContractAddress) IsEmpty() bool { return strings.TrimSpace(string(a)) == "" }

// LooksLikeHex reports whether the address has the 0x-prefixed 20-byte shape.
func (a ContractAddress) LooksLikeHex() bool {
	return common.IsHexAddress(string(a))
}

// Checksum returns the EIP-55 form, or "" when the address is not hex shaped.
func (a ContractAddress) Checksum() string {
	if !a.LooksLikeHex() {
		return ""
	}
	return common.HexToAddress(string(a)).Hex()
}

// StatusResponse is the JSON body of GET /collections/{address}.
type StatusResponse struct {
	ArchiveLink string    `json:"s3Link"`
	Status      JobStatus `json:"status"`
}
