// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"errors"
	"fmt"
)

// Status is the synchronization state of a locally stored entity record.
// The set of values is closed; records only move between them through Transition.
type Status uint8

const (
	statusNone Status = iota
	StatusNew
	StatusPending
	StatusUpdated
	StatusDeleted
	StatusSynced
	StatusFailed
)

var statusNames = map[Status]string{
	StatusNew:     "NEW",
	StatusPending: "PENDING",
	StatusUpdated: "UPDATED",
	StatusDeleted: "DELETED",
	StatusSynced:  "SYNCED",
	StatusFailed:  "FAILED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is one of the declared statuses
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// HasLocalIntent reports whether the record carries a local change the server has not confirmed yet
func (s Status) HasLocalIntent() bool {
	return s.Valid() && s != StatusSynced
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts the persisted name of a status back to its value
func ParseStatus(name string) (Status, error) {
	for st, n := range statusNames {
		if n == name {
			return st, nil
		}
	}
	return statusNone, fmt.Errorf("unknown sync status %q", name)
}

// Event is something that happens to a record and may move its status
type Event uint8

const (
	EventCreate Event = iota + 1
	EventEdit
	EventDelete
	EventDispatch
	EventDelivered
	EventTransientFailure
	EventPermanentFailure
	EventAbort
	EventPulled
)

var eventNames = map[Event]string{
	EventCreate:           "create",
	EventEdit:             "edit",
	EventDelete:           "delete",
	EventDispatch:         "dispatch",
	EventDelivered:        "delivered",
	EventTransientFailure: "transient_failure",
	EventPermanentFailure: "permanent_failure",
	EventAbort:            "abort",
	EventPulled:           "pulled",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", uint8(e))
}

// ErrIllegalTransition is returned when an event is not allowed in the current status
var ErrIllegalTransition = errors.New("illegal sync status transition")

// Transition returns the status a record moves to when ev happens in status from.
// hasRemote tells whether the server already knows the record; it decides where an
// edit of a failed record or an aborted delivery lands.
func Transition(from Status, ev Event, hasRemote bool) (Status, error) {
	next, ok := transition(from, ev, hasRemote)
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
	}
	return next, nil
}

func transition(from Status, ev Event, hasRemote bool) (Status, bool) {
	switch ev {
	case EventCreate:
		return StatusNew, from == statusNone

	case EventEdit:
		switch from {
		case StatusNew:
			return StatusNew, true
		case StatusPending, StatusUpdated, StatusSynced:
			return StatusUpdated, true
		case StatusFailed:
			if hasRemote {
				return StatusUpdated, true
			}
			return StatusNew, true
		}

	case EventDelete:
		switch from {
		case StatusNew, StatusPending, StatusUpdated, StatusSynced, StatusFailed:
			return StatusDeleted, true
		}

	case EventDispatch:
		switch from {
		case StatusNew, StatusPending, StatusUpdated, StatusFailed:
			return StatusPending, true
		}

	case EventDelivered:
		switch from {
		case StatusPending, StatusFailed, StatusSynced:
			return StatusSynced, true
		case StatusNew, StatusUpdated, StatusDeleted:
			// a newer local intent is queued behind the delivered one
			return from, true
		}

	case EventTransientFailure, EventPermanentFailure:
		if from.Valid() && from != StatusSynced {
			return StatusFailed, true
		}

	case EventAbort:
		if from == StatusPending {
			if hasRemote {
				return StatusUpdated, true
			}
			return StatusNew, true
		}
		if from.Valid() {
			return from, true
		}

	case EventPulled:
		switch from {
		case statusNone, StatusSynced:
			return StatusSynced, true
		}
	}
	return from, false
}
