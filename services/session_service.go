// services/session_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/esquisse/broadcast"
	"github.com/wfunc/esquisse/concepts"
	"github.com/wfunc/esquisse/guess"
	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/persistence"
	"github.com/wfunc/esquisse/scoring"
	"github.com/wfunc/esquisse/turn"
)

// Options tune game rules. Zero values fall back to the defaults.
type Options struct {
	WinningScore       int
	SessionTTL         time.Duration
	MaxConflictRetries int
	// EnforceTurnMaster restricts word and concept edits to the turn master.
	EnforceTurnMaster bool
	ConceptRemoval    concepts.RemovalMode
	// UpdaterOptions are passed to the session updater (clock, conflict hook).
	UpdaterOptions []persistence.UpdaterOption
	Now            func() time.Time
	NewID          func() string
}

// SessionService orchestrates every player facing operation on a session.
type SessionService struct {
	store     persistence.Store
	updater   *persistence.Updater
	ledger    *scoring.Ledger
	turns     *turn.Controller
	curator   *concepts.Curator
	players   *PlayerService
	publisher broadcast.Publisher
	opts      Options
}

func NewSessionService(store persistence.Store, locker persistence.Locker, publisher broadcast.Publisher, opts Options) *SessionService {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = models.DefaultSessionTTL
	}
	if opts.MaxConflictRetries < 1 {
		opts.MaxConflictRetries = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	updaterOpts := append([]persistence.UpdaterOption{persistence.WithClock(opts.Now)}, opts.UpdaterOptions...)
	updater := persistence.NewUpdater(store, locker, opts.MaxConflictRetries, opts.SessionTTL, updaterOpts...)
	ledger := scoring.NewLedger(store, opts.WinningScore)

	return &SessionService{
		store:     store,
		updater:   updater,
		ledger:    ledger,
		turns:     turn.NewController(updater, ledger, store, publisher),
		curator:   concepts.NewCurator(updater, publisher, opts.ConceptRemoval),
		players:   NewPlayerService(store),
		publisher: publisher,
		opts:      opts,
	}
}

func (svc *SessionService) Players() *PlayerService {
	return svc.players
}

// turnMasterOnly gates turn edits on the caller holding the turn, when enabled.
func (svc *SessionService) turnMasterOnly(caller string) models.Precondition {
	if !svc.opts.EnforceTurnMaster {
		return nil
	}
	return func(s *models.Session) bool {
		return s.TurnMaster() == caller
	}
}

func requireCaller(caller string) error {
	if caller == "" {
		return ErrUnauthenticated
	}
	return nil
}

// CreateSession 创建会话，创建者为第一个玩家
func (svc *SessionService) CreateSession(ctx context.Context, caller string) (string, error) {
	if err := requireCaller(caller); err != nil {
		return "", err
	}

	s := models.NewSession(svc.opts.NewID(), caller, svc.opts.Now())
	if err := svc.store.CreateSession(ctx, s); err != nil {
		return "", translate("create session", err)
	}

	logger.Log.Infof("Player %s created session %s", caller, s.ID)
	return s.ID, nil
}

// JoinSession adds the caller to the roster. Joining twice changes nothing but
// still publishes the roster. Late joiners of an active session get a score row.
func (svc *SessionService) JoinSession(ctx context.Context, sessionID, caller string) (*models.Session, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	s, err := svc.updater.Update(ctx, sessionID, func(s *models.Session) (bool, error) {
		if !s.AddPlayer(caller) {
			return false, nil
		}
		if s.Status == models.StatusActive {
			if err := svc.ledger.Open(ctx, s.ID, []string{caller}, s.CreatedAt); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, translate("join session", err)
	}

	svc.publisher.Publish(ctx, models.NewPlayerUpdate(s, svc.players.Profiles(ctx, s.Players)))
	return s, nil
}

// LeaveSession removes the caller while the session has not started. In any
// other case the session is returned unchanged and nothing is published.
func (svc *SessionService) LeaveSession(ctx context.Context, sessionID, caller string) (*models.Session, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	var left bool
	s, err := svc.updater.Update(ctx, sessionID, func(s *models.Session) (bool, error) {
		left = s.Status == models.StatusNew && s.RemovePlayer(caller)
		return left, nil
	})
	if err != nil {
		return nil, translate("leave session", err)
	}

	if !left {
		return s, nil
	}
	svc.publisher.Publish(ctx, models.NewPlayerUpdate(s, svc.players.Profiles(ctx, s.Players)))
	return s, nil
}

// ChangeStatus lets the creator move the session to status. Entering active
// opens a score row per player. The session is published whether or not the
// change applied.
func (svc *SessionService) ChangeStatus(ctx context.Context, sessionID, caller string, status models.Status) (*models.Session, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	s, err := svc.updater.Update(ctx, sessionID, func(s *models.Session) (bool, error) {
		if s.Status == status || s.Creator != caller {
			return false, nil
		}
		if status == models.StatusActive {
			if err := svc.ledger.Open(ctx, s.ID, s.Players, s.CreatedAt); err != nil {
				return false, err
			}
		}
		s.Status = status
		return true, nil
	})
	if err != nil {
		return nil, translate("change status", err)
	}

	svc.publisher.Publish(ctx, models.NewSessionUpdate(s))
	return s, nil
}

func (svc *SessionService) InitTurn(ctx context.Context, sessionID, caller, word string) (*models.Session, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	s, err := svc.turns.InitTurn(ctx, sessionID, word, svc.turnMasterOnly(caller))
	return s, translate("init turn", err)
}

func (svc *SessionService) StartGuessing(ctx context.Context, sessionID, caller string) (*models.Session, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	s, err := svc.turns.StartGuessing(ctx, sessionID, svc.turnMasterOnly(caller))
	return s, translate("start guessing", err)
}

// AdvanceTurn is open to every player so that a session never stalls on an
// absent turn master.
func (svc *SessionService) AdvanceTurn(ctx context.Context, sessionID, caller string) (*models.Session, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	s, err := svc.turns.AdvanceTurn(ctx, sessionID, nil)
	return s, translate("advance turn", err)
}

// SubmitGuess checks word against the secret. A correct guess awards one point
// to the turn master and one to the caller and records the caller as turn
// winner. Matching, awarding and recording happen under the session lock, so a
// concurrent advanceTurn sees either none or all of it. Every guess is
// published.
func (svc *SessionService) SubmitGuess(ctx context.Context, sessionID, caller, word string) (bool, error) {
	if err := requireCaller(caller); err != nil {
		return false, err
	}

	var (
		winner  bool
		secret  string
		awarded bool
		turn    int
	)
	s, err := svc.updater.Update(ctx, sessionID, func(s *models.Session) (bool, error) {
		if awarded {
			// 版本冲突重试：分数已发放，只在同一回合内记录赢家
			if s.Turn != turn || s.CurrentWord != secret {
				return false, nil
			}
		} else {
			secret = s.CurrentWord
			turn = s.Turn
			winner = secret != "" && guess.Match(secret, word)
			if !winner {
				return false, nil
			}
			if err := svc.ledger.Award(ctx, s.ID, s.TurnMaster(), caller); err != nil {
				return false, err
			}
			awarded = true
		}

		if s.TurnWinner == caller {
			return false, nil
		}
		s.TurnWinner = caller
		return true, nil
	})
	if err != nil {
		return false, translate("submit guess", err)
	}

	svc.publisher.Publish(ctx, models.NewGuessUpdate(s.ID, word, secret, caller, winner))
	return winner, nil
}

func (svc *SessionService) ModifyConcept(ctx context.Context, sessionID, caller string, listIndex int,
	conceptID string, action models.ConceptAction) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	_, err := svc.curator.ModifyConcept(ctx, sessionID, listIndex, conceptID, action, svc.turnMasterOnly(caller))
	return translate("modify concept", err)
}

func (svc *SessionService) ModifyConceptsList(ctx context.Context, sessionID, caller string, listIndex int,
	action models.ConceptAction) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	_, err := svc.curator.ModifyConceptsList(ctx, sessionID, listIndex, action, svc.turnMasterOnly(caller))
	return translate("modify concepts list", err)
}

func (svc *SessionService) GetSession(ctx context.Context, sessionID, caller string) (*models.Session, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	s, err := svc.updater.Load(ctx, sessionID)
	if err != nil {
		return nil, translate("get session", err)
	}
	return s, nil
}

// GetScores returns the session scores in roster order.
func (svc *SessionService) GetScores(ctx context.Context, sessionID, caller string) ([]models.Score, error) {
	s, err := svc.GetSession(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	scores, err := svc.ledger.Scores(ctx, s.ID)
	if err != nil {
		return nil, translate("get scores", err)
	}
	scoring.SortByPlayers(scores, s.Players)
	if scores == nil {
		scores = []models.Score{}
	}
	return scores, nil
}

// Reap deletes sessions that expired before now and returns their ids.
func (svc *SessionService) Reap(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := svc.store.PurgeExpired(ctx, now.Add(-svc.opts.SessionTTL))
	if err != nil {
		return nil, fmt.Errorf("reap expired sessions: %w", err)
	}
	if len(ids) > 0 {
		logger.Log.Infof("Reaped %d expired sessions", len(ids))
	}
	return ids, nil
}

// IsNotFound reports whether err is a NotFound service error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
