// Package gate turns parsed outputs into proposed actions and decides
// whether a run must wait for the user before executing them.
package gate

import (
	"fmt"

	"github.com/dukex/missionflow/pkg/models"
)

// Classify proposes one action per actionable output, in output order.
// Outputs that map to no executor are skipped. Outputs whose payload would be
// incomplete are reported in the returned notes instead.
func Classify(outputs []*models.MissionRunOutput, domainID string) ([]*models.MissionRunAction, []string) {
	var (
		actions []*models.MissionRunAction
		notes   []string
	)

	for _, output := range outputs {
		payload := payloadFor(output.Content, domainID)
		if payload == nil {
			continue
		}

		if err := models.ValidatePayload(payload); err != nil {
			notes = append(notes, fmt.Sprintf("Output %d (%s) was not turned into an action: %v", output.Index, output.Type, err))

			continue
		}

		actions = append(actions, &models.MissionRunAction{
			Type:              payload.ActionType(),
			Status:            models.ActionStatusPending,
			Payload:           payload,
			SourceOutputIndex: output.Index,
		})
	}

	return actions, notes
}

func payloadFor(content models.OutputContent, domainID string) models.ActionPayload {
	switch c := content.(type) {
	case *models.Alert:
		scope := c.DomainID
		if scope == "" {
			scope = domainID
		}

		title := c.Title
		if title == "" {
			title = c.Detail
		}

		return &models.NotificationPayload{
			Title:    title,
			Message:  c.Detail,
			Severity: models.NormalizeSeverity(string(c.Severity)),
			DomainID: scope,
		}
	case *models.Deadline:
		return &models.DeadlinePayload{Title: c.Title, DueDate: c.DueDate, Notes: c.Notes}
	case *models.EmailDraft:
		return &models.EmailDraftPayload{To: c.To, Subject: c.Subject, Body: c.Body}
	case *models.Task:
		return &models.TaskPayload{Title: c.Title, Notes: c.Notes, DueDate: c.DueDate}
	}

	return nil
}

// RequiresGate reports whether any pending action has an external side
// effect. Notifications never gate.
func RequiresGate(actions []*models.MissionRunAction) bool {
	for _, a := range actions {
		if a.Status == models.ActionStatusPending && a.Type.SideEffecting() {
			return true
		}
	}

	return false
}

// AutoApprove marks every pending action approved. Used when a run does not
// need a user decision.
func AutoApprove(actions []*models.MissionRunAction) {
	for _, a := range actions {
		if a.Status == models.ActionStatusPending {
			a.Status = models.ActionStatusApproved
		}
	}
}

// Split separates the actions that run immediately from those held for
// approval. Notifications always run immediately.
func Split(actions []*models.MissionRunAction, requireApproval bool) (immediate, held []*models.MissionRunAction) {
	for _, a := range actions {
		if requireApproval && a.Type.SideEffecting() {
			held = append(held, a)

			continue
		}

		immediate = append(immediate, a)
	}

	return immediate, held
}
