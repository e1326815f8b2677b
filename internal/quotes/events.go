package quotes

import "time"

// EventType names a project change broadcast to realtime subscribers.
type EventType string

const (
	EventProjectCreated     EventType = "project.created"
	EventRequirementsSaved  EventType = "requirements.saved"
	EventEstimateComputed   EventType = "estimate.computed"
	EventProposalGenerated  EventType = "proposal.generated"
	EventBlockUpdated       EventType = "proposal.block_updated"
	EventCommentOpened      EventType = "comment.opened"
	EventCommentResolved    EventType = "comment.resolved"
	EventStatusChanged      EventType = "project.status_changed"
	EventShareLinkCreated   EventType = "share_link.created"
	EventShareLinkRevoked   EventType = "share_link.revoked"
	EventPdfExportRequested EventType = "pdf_export.requested"
)

// Event describes a committed change to a project.
type Event struct {
	Type        EventType `json:"type"`
	ProjectID   string    `json:"projectId"`
	ActorUserID string    `json:"actorUserId,omitempty"`
	Status      Status    `json:"status,omitempty"`
	SubjectID   string    `json:"subjectId,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Notifier receives events after their transaction commits.
type Notifier interface {
	Publish(event Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}

func (s *Service) publish(eventType EventType, project Project, actorUserID, subjectID string) {
	s.notifier.Publish(Event{
		Type:        eventType,
		ProjectID:   project.ID,
		ActorUserID: actorUserID,
		Status:      project.Status,
		SubjectID:   subjectID,
		OccurredAt:  s.clock().UTC(),
	})
}
