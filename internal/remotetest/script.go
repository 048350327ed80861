package remotetest

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"agent-console/internal/types"
)

func DefaultTools() []types.ToolInfo {
	return []types.ToolInfo{
		{
			Name:             "query_campaigns",
			Description:      "Query campaigns and their recent performance",
			Category:         "analytics",
			ParametersSchema: json.RawMessage(`{"type":"object","properties":{"status":{"type":"string"}}}`),
		},
		{
			Name:             "launch_campaign",
			Description:      "Launch a campaign on the ad platform",
			Category:         "execution",
			ParametersSchema: json.RawMessage(`{"type":"object","properties":{"campaign_id":{"type":"string"}},"required":["campaign_id"]}`),
			RequiresApproval: true,
		},
		{
			Name:             "send_message",
			Description:      "Send a message to the user",
			Category:         "communication",
			ParametersSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
		},
	}
}

// step plays the next scripted decision for an active session. Caller holds s.mu.
func (s *Service) step(session *types.Session) {
	if !session.Status.Active() || session.Status == types.SessionStatusAwaitingApproval {
		return
	}
	if session.CurrentStep >= session.MaxSteps {
		s.complete(session, "Step budget exhausted")
		return
	}
	session.Status = types.SessionStatusRunning

	add := func(d types.Decision) {
		d.ID = uuid.NewString()
		d.StepNumber = len(session.Decisions) + 1
		d.CreatedAt = s.stamp()
		session.Decisions = append(session.Decisions, d)
		session.CurrentStep = d.StepNumber
		session.UpdatedAt = d.CreatedAt
	}

	switch n := len(session.Decisions); {
	case n == 0:
		add(types.Decision{Phase: types.PhaseThink, Reasoning: fmt.Sprintf("Planning how to: %s", session.Goal)})
	case n == 1:
		add(types.Decision{
			Phase:      types.PhaseAct,
			ToolName:   "query_campaigns",
			ToolInput:  json.RawMessage(`{"status":"active"}`),
			ToolOutput: json.RawMessage(`{"message":"Found 3 active campaigns","count":3}`),
		})
	case n == 2:
		add(types.Decision{Phase: types.PhaseObserve, Reasoning: "Campaign data received"})
	case n == 3:
		add(types.Decision{
			Phase:            types.PhaseAct,
			ToolName:         "launch_campaign",
			ToolInput:        json.RawMessage(`{"campaign_id":"spring-sale"}`),
			ToolOutput:       json.RawMessage(`{"approval_requested":true,"status":"awaiting_approval","message":"Launching spring-sale needs your approval"}`),
			RequiresApproval: true,
		})
		session.Status = types.SessionStatusAwaitingApproval
	default:
		msgs := s.messages[session.ID]
		text := "Done with the plan."
		if len(msgs) > 0 {
			text = fmt.Sprintf("Handled follow-up: %s", msgs[len(msgs)-1])
		}
		add(types.Decision{Phase: types.PhaseThink, Reasoning: text})
		s.complete(session, text)
	}
}

func (s *Service) complete(session *types.Session, summary string) {
	result, _ := json.Marshal(map[string]string{"summary": summary})
	session.Status = types.SessionStatusCompleted
	session.Result = result
	session.UpdatedAt = s.stamp()
}
