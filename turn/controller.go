// Package turn drives word selection and turn rotation.
package turn

import (
	"context"

	"github.com/wfunc/esquisse/broadcast"
	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/persistence"
	"github.com/wfunc/esquisse/scoring"
)

type Controller struct {
	updater   *persistence.Updater
	ledger    *scoring.Ledger
	players   persistence.PlayerStore
	publisher broadcast.Publisher
}

func NewController(updater *persistence.Updater, ledger *scoring.Ledger, players persistence.PlayerStore,
	publisher broadcast.Publisher) *Controller {
	return &Controller{
		updater:   updater,
		ledger:    ledger,
		players:   players,
		publisher: publisher,
	}
}

// InitTurn records the secret word and moves on to concept selection.
func (c *Controller) InitTurn(ctx context.Context, sessionID, word string, allow models.Precondition) (*models.Session, error) {
	s, err := c.updater.Update(ctx, sessionID, func(s *models.Session) (bool, error) {
		if !allow.Allows(s) {
			return false, nil
		}
		s.CurrentWord = word
		s.Step = models.StepSelectConcepts
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	c.publisher.Publish(ctx, models.NewSessionUpdate(s))
	return s, nil
}

// StartGuessing opens guessing once concepts are chosen. From any other step
// it does nothing.
func (c *Controller) StartGuessing(ctx context.Context, sessionID string, allow models.Precondition) (*models.Session, error) {
	s, err := c.updater.Update(ctx, sessionID, func(s *models.Session) (bool, error) {
		if !allow.Allows(s) || s.Step != models.StepSelectConcepts {
			return false, nil
		}
		s.Step = models.StepGuessing
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	c.publisher.Publish(ctx, models.NewSessionUpdate(s))
	return s, nil
}

// AdvanceTurn ends the game when someone reached the winning score and pays
// out lifetime totals. Otherwise it hands the turn to the next player and
// resets the round.
func (c *Controller) AdvanceTurn(ctx context.Context, sessionID string, allow models.Precondition) (*models.Session, error) {
	var final []models.Score

	s, err := c.updater.Update(ctx, sessionID, func(s *models.Session) (bool, error) {
		final = nil
		if !allow.Allows(s) || s.Status == models.StatusOver {
			return false, nil
		}

		scores, err := c.ledger.Scores(ctx, s.ID)
		if err != nil {
			return false, err
		}
		if _, ok := c.ledger.Winner(scores); ok {
			s.Status = models.StatusOver
			final = scores
			return true, nil
		}

		if len(s.Players) == 0 {
			s.Turn = 0
		} else {
			s.Turn = (s.Turn + 1) % len(s.Players)
		}
		s.Step = models.StepSelectWord
		s.ConceptsLists = models.EmptyConceptsLists()
		s.CurrentWord = ""
		s.TurnWinner = ""
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if final != nil {
		c.payout(ctx, s.ID, final)
	}
	c.publisher.Publish(ctx, models.NewSessionUpdate(s))
	return s, nil
}

// payout 结算玩家总分，单个玩家失败只记录日志
func (c *Controller) payout(ctx context.Context, sessionID string, scores []models.Score) {
	for _, score := range scores {
		if err := c.players.MergeTotals(ctx, score.PlayerID, score.Points); err != nil {
			logger.Log.Errorf("Failed to merge totals of player %s for session %s: %v", score.PlayerID, sessionID, err)
		}
	}
	logger.Log.Infof("Session %s is over, paid out %d players", sessionID, len(scores))
}
