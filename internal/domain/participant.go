// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// Participant is the join-time identity of one room member.
// The slot id is a client-assigned placement token, passed through unmodified.
type Participant struct {
	Name      string
	SlotID    string
	Presenter bool
}

// NewParticipant avoids raw struct literals in adapters and keeps validation obvious.
func NewParticipant(name, slotID string, presenter bool) (*Participant, error) {
	if len(name) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{Name: name, SlotID: slotID, Presenter: presenter}, nil
}
