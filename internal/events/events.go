// Package events defines the domain events exchanged between modules over
// the platform event bus. Payloads carry IDs and outcome data only; consumers
// load full records themselves.
package events

import (
	"github.com/google/uuid"

	"leadrouter_backend/platform/events"
)

// Event names. Subscribers key on these.
const (
	LeadCreatedEvent        = "leads.lead.created"
	LeadAssignedEvent       = "routing.lead.assigned"
	LeadQueuedEvent         = "routing.lead.queued"
	LeadReassignedEvent     = "routing.lead.reassigned"
	EscalationRequiredEvent = "routing.escalation.required"
	ManagerNotifiedEvent    = "routing.manager.notified"
)

// LeadCreated announces a new lead entering the system. Published by the
// intake surface (or an upstream collaborator); the routing module subscribes
// to trigger automatic routing.
type LeadCreated struct {
	events.BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
}

func (LeadCreated) EventName() string { return LeadCreatedEvent }

// LeadAssigned announces a committed assignment.
type LeadAssigned struct {
	events.BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
	RepID          uuid.UUID `json:"repId"`
	AssignmentID   uuid.UUID `json:"assignmentId"`
	Strategy       string    `json:"strategy"`
	Score          float64   `json:"score"`
	NotifyRep      bool      `json:"notifyRep"`
}

func (LeadAssigned) EventName() string { return LeadAssignedEvent }

// LeadQueued announces a lead parked in the routing queue because no rep
// could take it.
type LeadQueued struct {
	events.BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
	Queue          string    `json:"queue"`
	Reason         string    `json:"reason"`
}

func (LeadQueued) EventName() string { return LeadQueuedEvent }

// LeadReassigned announces an assignment superseded by a new one.
type LeadReassigned struct {
	events.BaseEvent
	OrganizationID    uuid.UUID `json:"organizationId"`
	LeadID            uuid.UUID `json:"leadId"`
	FromRepID         uuid.UUID `json:"fromRepId"`
	ToRepID           uuid.UUID `json:"toRepId"`
	AssignmentID      uuid.UUID `json:"assignmentId"`
	Reason            string    `json:"reason"`
	ReassignmentCount int       `json:"reassignmentCount"`
}

func (LeadReassigned) EventName() string { return LeadReassignedEvent }

// EscalationRequired announces that automatic routing gave up on a lead:
// the reassignment limit was reached or a queued lead aged out. A human has
// to decide.
type EscalationRequired struct {
	events.BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
	Reason         string    `json:"reason"`
}

func (EscalationRequired) EventName() string { return EscalationRequiredEvent }

// ManagerNotified announces that a notify_manager rule action fired for a
// lead. Delivery of the notification is a collaborator concern.
type ManagerNotified struct {
	events.BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	LeadID         uuid.UUID `json:"leadId"`
	Reason         string    `json:"reason"`
}

func (ManagerNotified) EventName() string { return ManagerNotifiedEvent }
