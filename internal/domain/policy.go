package domain

import "time"

// Default reminder templates. Placeholders are resolved by the
// notifications renderer; an unknown placeholder is a render error.
const (
	DefaultSubjectTemplate = "Reminder: preventive hardware maintenance ({brand})"

	DefaultBodyTemplate = "This is a reminder that preventive maintenance has been scheduled " +
		"for the following equipment assigned to you:\n\n{device_list}\n\n" +
		"The activity takes place on {shift_date} at the maintenance office. " +
		"Your slot starts at {time} with an estimated duration of {duration} minutes " +
		"per device. Planned activity: {activity}.\n\n" +
		"Please coordinate the hand-over of your equipment in advance so the " +
		"schedule can be kept without service interruptions."
)

// Policy is the singleton notification policy: which reminder kinds are
// enabled, their lead times, and the content templates. Edits are rare and
// human-triggered; last write wins.
type Policy struct {
	AdvanceEnabled       bool      `json:"advance_enabled"`
	AdvanceLeadDays      int       `json:"advance_lead_days"`
	DayOfEnabled         bool      `json:"day_of_enabled"`
	DayOfLeadMinutes     int       `json:"day_of_lead_minutes"`
	SubjectTemplate      string    `json:"subject_template"`
	BodyTemplate         string    `json:"body_template"`
	BCCEmail             string    `json:"bcc_email,omitempty"`
	DefaultActivity      string    `json:"default_activity"`
	SlotDurationMinutes  int       `json:"slot_duration_minutes"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DefaultPolicy returns the policy created on first access. The day-of
// reminder kind is retained from earlier designs but ships disabled; it is
// an independent toggle, never implied by the advance kind.
func DefaultPolicy() *Policy {
	return &Policy{
		AdvanceEnabled:      true,
		AdvanceLeadDays:     1,
		DayOfEnabled:        false,
		DayOfLeadMinutes:    60,
		SubjectTemplate:     DefaultSubjectTemplate,
		BodyTemplate:        DefaultBodyTemplate,
		DefaultActivity:     "Preventive Maintenance",
		SlotDurationMinutes: 30,
	}
}

// PolicyPatch is a partial policy update; nil fields are left untouched.
type PolicyPatch struct {
	AdvanceEnabled      *bool   `json:"advance_enabled,omitempty"`
	AdvanceLeadDays     *int    `json:"advance_lead_days,omitempty"`
	DayOfEnabled        *bool   `json:"day_of_enabled,omitempty"`
	DayOfLeadMinutes    *int    `json:"day_of_lead_minutes,omitempty"`
	SubjectTemplate     *string `json:"subject_template,omitempty"`
	BodyTemplate        *string `json:"body_template,omitempty"`
	BCCEmail            *string `json:"bcc_email,omitempty"`
	DefaultActivity     *string `json:"default_activity,omitempty"`
	SlotDurationMinutes *int    `json:"slot_duration_minutes,omitempty"`
}

// Apply overlays the patch onto a policy copy and returns it.
func (p PolicyPatch) Apply(base Policy) Policy {
	if p.AdvanceEnabled != nil {
		base.AdvanceEnabled = *p.AdvanceEnabled
	}
	if p.AdvanceLeadDays != nil {
		base.AdvanceLeadDays = *p.AdvanceLeadDays
	}
	if p.DayOfEnabled != nil {
		base.DayOfEnabled = *p.DayOfEnabled
	}
	if p.DayOfLeadMinutes != nil {
		base.DayOfLeadMinutes = *p.DayOfLeadMinutes
	}
	if p.SubjectTemplate != nil {
		base.SubjectTemplate = *p.SubjectTemplate
	}
	if p.BodyTemplate != nil {
		base.BodyTemplate = *p.BodyTemplate
	}
	if p.BCCEmail != nil {
		base.BCCEmail = *p.BCCEmail
	}
	if p.DefaultActivity != nil {
		base.DefaultActivity = *p.DefaultActivity
	}
	if p.SlotDurationMinutes != nil {
		base.SlotDurationMinutes = *p.SlotDurationMinutes
	}
	return base
}

// IsEmpty reports whether the patch changes nothing.
func (p PolicyPatch) IsEmpty() bool {
	return p.AdvanceEnabled == nil && p.AdvanceLeadDays == nil &&
		p.DayOfEnabled == nil && p.DayOfLeadMinutes == nil &&
		p.SubjectTemplate == nil && p.BodyTemplate == nil &&
		p.BCCEmail == nil && p.DefaultActivity == nil &&
		p.SlotDurationMinutes == nil
}
