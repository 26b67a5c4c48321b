package model

import "time"

type ScheduleType string

const SCHEDULE_ONCE ScheduleType = "once"
const SCHEDULE_RECURRING ScheduleType = "recurring"

// Schedule describes when a message fires. A once schedule fires at FireAt; a
// recurring schedule fires every IntervalMinutes until Until (if set).
type Schedule struct {
	Type            ScheduleType `json:"type"`
	FireAt          *time.Time   `json:"fireAt,omitempty"`
	IntervalMinutes int          `json:"intervalMinutes,omitempty"`
	Until           *time.Time   `json:"until,omitempty"`
}

// RecipientSet describes the audience. Membership is resolved at fire time,
// not at creation time.
type RecipientSet struct {
	Type  string   `json:"type"` // tag, segment, list, all
	Tag   string   `json:"tag,omitempty"`
	Ids   []string `json:"ids,omitempty"`
	Query string   `json:"query,omitempty"`
}

type ScheduledMessageStatus string

const SCHEDULED_MSG_DRAFT ScheduledMessageStatus = "draft"
const SCHEDULED_MSG_SCHEDULED ScheduledMessageStatus = "scheduled"
const SCHEDULED_MSG_SENT ScheduledMessageStatus = "sent"
const SCHEDULED_MSG_CANCELLED ScheduledMessageStatus = "cancelled"

type ScheduledMessage struct {
	Id         string                 `json:"id"`
	TeamId     string                 `json:"teamId"`
	Name       string                 `json:"name"`
	Content    string                 `json:"content"`
	Recipients RecipientSet           `json:"recipients"`
	Schedule   Schedule               `json:"schedule"`
	Platforms  []string               `json:"platforms"`
	Status     ScheduledMessageStatus `json:"status"`
	SentCount  int64                  `json:"sentCount"`
	LastSent   *time.Time             `json:"lastSent,omitempty"`
	CreatedBy  string                 `json:"createdBy,omitempty"`
}

// NextFire returns the next time the message is due after the given reference
// point, or nil if it never fires again.
func (m *ScheduledMessage) NextFire(after time.Time) *time.Time {
	switch m.Schedule.Type {
	case SCHEDULE_ONCE:
		if m.Status != SCHEDULED_MSG_SCHEDULED || m.Schedule.FireAt == nil {
			return nil
		}
		return m.Schedule.FireAt
	case SCHEDULE_RECURRING:
		if m.Status != SCHEDULED_MSG_SCHEDULED || m.Schedule.IntervalMinutes <= 0 {
			return nil
		}
		var next time.Time
		if m.LastSent == nil {
			if m.Schedule.FireAt != nil {
				next = *m.Schedule.FireAt
			} else {
				next = after
			}
		} else {
			next = m.LastSent.Add(time.Duration(m.Schedule.IntervalMinutes) * time.Minute)
		}
		if m.Schedule.Until != nil && next.After(*m.Schedule.Until) {
			return nil
		}
		return &next
	}
	return nil
}
