// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package entities defines the digital gap assessment records that are edited
// offline and synchronized with the remote API.
package entities

import (
	"net/mail"
	"strings"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

const maxNameLen = 255

// Cooperation is a cooperative organization taking part in assessments
type Cooperation struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Country     string   `json:"country,omitempty"`
	Sectors     []string `json:"sectors,omitempty"`
}

func (c *Cooperation) GetID() string   { return c.ID }
func (c *Cooperation) SetID(id string) { c.ID = id }

func (c *Cooperation) Validate() error {
	return requireName(c.Name)
}

// Dimension is one axis of the digitalisation assessment (e.g. "Digital Culture")
type Dimension struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Weight      int    `json:"weight"`
}

func (d *Dimension) GetID() string   { return d.ID }
func (d *Dimension) SetID(id string) { d.ID = id }

func (d *Dimension) Validate() error {
	if err := requireName(d.Name); err != nil {
		return err
	}
	if d.Weight < 0 || d.Weight > 100 {
		return offsync.NewValidationError("weight", "must be between 0 and 100")
	}
	return nil
}

// LevelType tells whether a digitalisation level describes where an organization is or wants to be
type LevelType string

const (
	LevelCurrent LevelType = "current"
	LevelDesired LevelType = "desired"
)

// DigitalisationLevel describes one maturity state of a dimension
type DigitalisationLevel struct {
	ID          string    `json:"id"`
	DimensionID string    `json:"dimension_id"`
	LevelType   LevelType `json:"level_type"`
	State       int       `json:"state"` // 1..5
	Description string    `json:"description,omitempty"`
}

func (l *DigitalisationLevel) GetID() string   { return l.ID }
func (l *DigitalisationLevel) SetID(id string) { l.ID = id }

func (l *DigitalisationLevel) Validate() error {
	if l.DimensionID == "" {
		return offsync.NewValidationError("dimension_id", "is required")
	}
	if l.LevelType != LevelCurrent && l.LevelType != LevelDesired {
		return offsync.NewValidationError("level_type", "must be current or desired")
	}
	if l.State < 1 || l.State > 5 {
		return offsync.NewValidationError("state", "must be between 1 and 5")
	}
	return nil
}

// OrganizationDimensionAssignment selects a dimension for an organization's assessment
type OrganizationDimensionAssignment struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	DimensionID    string `json:"dimension_id"`
}

func (a *OrganizationDimensionAssignment) GetID() string   { return a.ID }
func (a *OrganizationDimensionAssignment) SetID(id string) { a.ID = id }

func (a *OrganizationDimensionAssignment) Validate() error {
	if a.OrganizationID == "" {
		return offsync.NewValidationError("organization_id", "is required")
	}
	if a.DimensionID == "" {
		return offsync.NewValidationError("dimension_id", "is required")
	}
	return nil
}

// Role of a user inside a cooperation
type Role string

const (
	RoleCoopAdmin Role = "coop_admin"
	RoleCoopUser  Role = "coop_user"
)

func (r Role) valid() bool { return r == RoleCoopAdmin || r == RoleCoopUser }

// CooperationUser is a member of a cooperation
type CooperationUser struct {
	ID            string `json:"id"`
	CooperationID string `json:"cooperation_id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Role          Role   `json:"role"`
}

func (u *CooperationUser) GetID() string   { return u.ID }
func (u *CooperationUser) SetID(id string) { u.ID = id }

func (u *CooperationUser) Validate() error {
	if u.CooperationID == "" {
		return offsync.NewValidationError("cooperation_id", "is required")
	}
	if err := requireEmail(u.Email); err != nil {
		return err
	}
	if !u.Role.valid() {
		return offsync.NewValidationError("role", "must be coop_admin or coop_user")
	}
	return nil
}

// Priority of a recommendation
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Recommendation is advice attached to a dimension for closing a digital gap
type Recommendation struct {
	ID          string   `json:"id"`
	DimensionID string   `json:"dimension_id"`
	Priority    Priority `json:"priority"`
	Description string   `json:"description"`
}

func (r *Recommendation) GetID() string   { return r.ID }
func (r *Recommendation) SetID(id string) { r.ID = id }

func (r *Recommendation) Validate() error {
	if r.DimensionID == "" {
		return offsync.NewValidationError("dimension_id", "is required")
	}
	switch r.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return offsync.NewValidationError("priority", "must be LOW, MEDIUM or HIGH")
	}
	if strings.TrimSpace(r.Description) == "" {
		return offsync.NewValidationError("description", "is required")
	}
	return nil
}

// Invitation asks someone by email to join a cooperation
type Invitation struct {
	ID            string `json:"id"`
	CooperationID string `json:"cooperation_id"`
	Email         string `json:"email"`
	Role          Role   `json:"role"`
}

func (i *Invitation) GetID() string   { return i.ID }
func (i *Invitation) SetID(id string) { i.ID = id }

func (i *Invitation) Validate() error {
	if i.CooperationID == "" {
		return offsync.NewValidationError("cooperation_id", "is required")
	}
	if err := requireEmail(i.Email); err != nil {
		return err
	}
	if !i.Role.valid() {
		return offsync.NewValidationError("role", "must be coop_admin or coop_user")
	}
	return nil
}

func requireName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return offsync.NewValidationError("name", "is required")
	}
	if len(name) > maxNameLen {
		return offsync.NewValidationError("name", "is too long")
	}
	return nil
}

func requireEmail(email string) error {
	if email == "" {
		return offsync.NewValidationError("email", "is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return offsync.NewValidationError("email", "is not a valid address")
	}
	return nil
}
