package services

import (
	"context"
	"fmt"

	"github.com/wfunc/esquisse/models"
)

// Op names a command.
type Op string

const (
	OpCreateSession      Op = "createSession"
	OpJoinSession        Op = "joinSession"
	OpLeaveSession       Op = "leaveSession"
	OpChangeStatus       Op = "changeStatus"
	OpInitTurn           Op = "initTurn"
	OpStartGuessing      Op = "startGuessing"
	OpAdvanceTurn        Op = "advanceTurn"
	OpSubmitGuess        Op = "submitGuess"
	OpModifyConcept      Op = "modifyConcept"
	OpModifyConceptsList Op = "modifyConceptsList"
	OpGetSession         Op = "getSession"
	OpGetScores          Op = "getScores"
)

var knownOps = map[Op]bool{
	OpCreateSession: true, OpJoinSession: true, OpLeaveSession: true, OpChangeStatus: true,
	OpInitTurn: true, OpStartGuessing: true, OpAdvanceTurn: true, OpSubmitGuess: true,
	OpModifyConcept: true, OpModifyConceptsList: true, OpGetSession: true, OpGetScores: true,
}

// Command is the transport independent form of every operation. The
// websocket, HTTP and rpc adapters all decode into it.
type Command struct {
	RequestID string `json:"requestId,omitempty"`
	Op        Op     `json:"op"`
	SessionID string `json:"sessionId,omitempty"`
	Status    string `json:"status,omitempty"`
	Word      string `json:"word,omitempty"`
	ListIndex int    `json:"listIndex,omitempty"`
	ConceptID string `json:"conceptId,omitempty"`
	Action    string `json:"action,omitempty"`
}

// SessionRef is the result of operations that only confirm the session.
type SessionRef struct {
	SessionID string `json:"sessionId"`
}

// Execute runs cmd on behalf of caller and returns the operation result.
func (svc *SessionService) Execute(ctx context.Context, caller string, cmd Command) (any, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if !knownOps[cmd.Op] {
		return nil, newError(CodeInvalidArgument, fmt.Sprintf("unknown op %q", cmd.Op), nil)
	}
	if cmd.Op != OpCreateSession && cmd.SessionID == "" {
		return nil, newError(CodeInvalidArgument, fmt.Sprintf("%s: session id is required", cmd.Op), nil)
	}

	switch cmd.Op {
	case OpCreateSession:
		id, err := svc.CreateSession(ctx, caller)
		if err != nil {
			return nil, err
		}
		return SessionRef{SessionID: id}, nil

	case OpJoinSession:
		return svc.JoinSession(ctx, cmd.SessionID, caller)

	case OpLeaveSession:
		return svc.LeaveSession(ctx, cmd.SessionID, caller)

	case OpChangeStatus:
		status, err := models.ParseStatus(cmd.Status)
		if err != nil {
			return nil, newError(CodeInvalidArgument, "change status: "+err.Error(), err)
		}
		return svc.ChangeStatus(ctx, cmd.SessionID, caller, status)

	case OpInitTurn:
		return svc.ref(svc.InitTurn(ctx, cmd.SessionID, caller, cmd.Word))

	case OpStartGuessing:
		return svc.ref(svc.StartGuessing(ctx, cmd.SessionID, caller))

	case OpAdvanceTurn:
		return svc.ref(svc.AdvanceTurn(ctx, cmd.SessionID, caller))

	case OpSubmitGuess:
		if _, err := svc.SubmitGuess(ctx, cmd.SessionID, caller, cmd.Word); err != nil {
			return nil, err
		}
		return SessionRef{SessionID: cmd.SessionID}, nil

	case OpModifyConcept:
		action := models.ParseConceptAction(cmd.Action)
		return nil, svc.ModifyConcept(ctx, cmd.SessionID, caller, cmd.ListIndex, cmd.ConceptID, action)

	case OpModifyConceptsList:
		action := models.ParseConceptAction(cmd.Action)
		return nil, svc.ModifyConceptsList(ctx, cmd.SessionID, caller, cmd.ListIndex, action)

	case OpGetSession:
		return svc.GetSession(ctx, cmd.SessionID, caller)

	case OpGetScores:
		return svc.GetScores(ctx, cmd.SessionID, caller)
	}
	return nil, ErrInternal
}

func (svc *SessionService) ref(s *models.Session, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return SessionRef{SessionID: s.ID}, nil
}
