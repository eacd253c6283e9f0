// Package domain contains core domain types shared across modules.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ShiftStatus represents the lifecycle status of a maintenance shift.
type ShiftStatus string

// Shift statuses.
const (
	ShiftStatusProposed   ShiftStatus = "proposed"
	ShiftStatusAssigned   ShiftStatus = "assigned"
	ShiftStatusInProgress ShiftStatus = "in_progress"
	ShiftStatusCompleted  ShiftStatus = "completed"
	ShiftStatusCancelled  ShiftStatus = "cancelled"
)

// IsTerminal reports whether the shift can no longer produce reminders.
func (s ShiftStatus) IsTerminal() bool {
	return s == ShiftStatusCompleted || s == ShiftStatusCancelled
}

// Shift represents a scheduled maintenance appointment for one assignee.
// The last_notification_* fields are a read-model projection written only
// by the delivery processor on terminal outcomes; scheduling decisions
// never read them.
type Shift struct {
	ID                    uuid.UUID   `json:"id"`
	AssigneeID            uuid.UUID   `json:"assignee_id"`
	AssigneeName          string      `json:"assignee_name"`
	AssigneeEmail         string      `json:"assignee_email,omitempty"`
	Date                  time.Time   `json:"date"`       // calendar date, midnight local
	Start                 time.Time   `json:"start_time"` // time of day, anchored to 2000-01-01 so midnight is valid
	Station               int         `json:"station"`
	Status                ShiftStatus `json:"status"`
	Description           string      `json:"description,omitempty"`
	LastNotificationSent  bool        `json:"last_notification_sent"`
	LastNotificationError bool        `json:"last_notification_error"`
	LastSentAt            *time.Time  `json:"last_sent_at,omitempty"`
}

// HasSchedule reports whether the shift carries both a date and a start time.
func (s *Shift) HasSchedule() bool {
	return !s.Date.IsZero() && !s.Start.IsZero()
}

// StartsAt combines the shift date and time of day in the given location.
func (s *Shift) StartsAt(loc *time.Location) time.Time {
	return time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(),
		s.Start.Hour(), s.Start.Minute(), 0, 0, loc)
}

// Assignee is a roster member who can hold shifts.
type Assignee struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"` // empty means no address on file
}

// Device is a piece of equipment registered to an assignee. Device
// descriptions feed the reminder templates.
type Device struct {
	ID           uuid.UUID `json:"id"`
	AssigneeID   uuid.UUID `json:"assignee_id"`
	InternalCode string    `json:"internal_code,omitempty"`
	Brand        string    `json:"brand,omitempty"`
	Model        string    `json:"model,omitempty"`
	Description  string    `json:"description,omitempty"`
}
