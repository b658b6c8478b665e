package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/persistence"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordingPublisher struct {
	mutex  sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e models.Event) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) topics() []models.Topic {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var out []models.Topic
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.events = nil
}

type fixture struct {
	svc   *SessionService
	store *persistence.Memory
	pub   *recordingPublisher
	now   time.Time
}

func newFixture(t *testing.T, enforce bool) *fixture {
	t.Helper()
	f := &fixture{
		store: persistence.NewMemory(),
		pub:   &recordingPublisher{},
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	ids := 0
	f.svc = NewSessionService(f.store, nil, f.pub, Options{
		WinningScore:      15,
		EnforceTurnMaster: enforce,
		Now:               func() time.Time { return f.now },
		NewID: func() string {
			ids++
			return fmt.Sprintf("session-%d", ids)
		},
	})
	return f
}

// startedSession creates a session with players, all joined, status active.
func (f *fixture) startedSession(t *testing.T, players ...string) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.svc.CreateSession(ctx, players[0])
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for _, p := range players[1:] {
		if _, err := f.svc.JoinSession(ctx, id, p); err != nil {
			t.Fatalf("JoinSession failed: %v", err)
		}
	}
	if _, err := f.svc.ChangeStatus(ctx, id, players[0], models.StatusActive); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	f.pub.reset()
	return id
}

func (f *fixture) points(t *testing.T, id string) map[string]int {
	t.Helper()
	scores, err := f.svc.GetScores(context.Background(), id, "observer")
	if err != nil {
		t.Fatalf("GetScores failed: %v", err)
	}
	out := make(map[string]int)
	for _, s := range scores {
		out[s.PlayerID] = s.Points
	}
	return out
}

func TestSessionService_CreateSession(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	id, err := f.svc.CreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	s, err := f.svc.GetSession(ctx, id, "alice")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !reflect.DeepEqual(s.Players, []string{"alice"}) || s.Creator != "alice" ||
		s.Status != models.StatusNew || s.Turn != 0 || s.Step != models.StepSelectWord {
		t.Errorf("Unexpected new session: %+v", s)
	}
	if !reflect.DeepEqual(s.ConceptsLists, [][]string{{}}) {
		t.Errorf("Expected [[]] concepts, got %v", s.ConceptsLists)
	}
}

func TestSessionService_JoinIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id, _ := f.svc.CreateSession(ctx, "alice")
	f.store.UpsertProfile(ctx, models.PlayerProfile{ID: "bob", Name: "Bob", Icon: "fox"})

	once, err := f.svc.JoinSession(ctx, id, "bob")
	if err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	twice, err := f.svc.JoinSession(ctx, id, "bob")
	if err != nil {
		t.Fatalf("second JoinSession failed: %v", err)
	}

	if !reflect.DeepEqual(once.Players, twice.Players) || len(twice.Players) != 2 {
		t.Errorf("Joining twice changed the roster: %v vs %v", once.Players, twice.Players)
	}
	if twice.Version != once.Version {
		t.Errorf("Second join should not save, version %d -> %d", once.Version, twice.Version)
	}

	if len(f.pub.events) != 2 {
		t.Fatalf("Every join publishes, got %d events", len(f.pub.events))
	}
	update := f.pub.events[1].Payload.(*models.PlayerUpdate)
	want := []models.PlayerProfile{{ID: "alice"}, {ID: "bob", Name: "Bob", Icon: "fox"}}
	if !reflect.DeepEqual(update.Profiles, want) || update.Creator != "alice" {
		t.Errorf("Unexpected player update: %+v", update)
	}
}

func TestSessionService_LateJoinerGetsScoreRow(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id := f.startedSession(t, "alice", "bob")

	if _, err := f.svc.JoinSession(ctx, id, "carol"); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	f.svc.InitTurn(ctx, id, "alice", "chat")

	won, err := f.svc.SubmitGuess(ctx, id, "carol", "Chat")
	if err != nil || !won {
		t.Fatalf("Expected carol to win, got %v, %v", won, err)
	}
	if got := f.points(t, id); got["carol"] != 1 || got["alice"] != 1 || got["bob"] != 0 {
		t.Errorf("Unexpected points: %v", got)
	}
}

func TestSessionService_JoinMissingSession(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.JoinSession(context.Background(), "nope", "bob")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected NotFound, got %v", err)
	}
	if len(f.pub.events) != 0 {
		t.Errorf("No event expected, got %d", len(f.pub.events))
	}
}

func TestSessionService_LeaveSession(t *testing.T) {
	t.Run("creator leaving promotes next player", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		id, _ := f.svc.CreateSession(ctx, "alice")
		f.svc.JoinSession(ctx, id, "bob")
		f.svc.JoinSession(ctx, id, "carol")
		f.pub.reset()

		s, err := f.svc.LeaveSession(ctx, id, "alice")
		if err != nil {
			t.Fatalf("LeaveSession failed: %v", err)
		}
		if s.Creator != "bob" || !reflect.DeepEqual(s.Players, []string{"bob", "carol"}) {
			t.Errorf("Unexpected session after leave: %+v", s)
		}
		if len(f.pub.events) != 1 || f.pub.events[0].Topic != models.TopicPlayerUpdate {
			t.Errorf("Expected one PlayerUpdate, got %v", f.pub.topics())
		}
	})

	t.Run("last player abandons", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		id, _ := f.svc.CreateSession(ctx, "alice")

		s, err := f.svc.LeaveSession(ctx, id, "alice")
		if err != nil {
			t.Fatalf("LeaveSession failed: %v", err)
		}
		if s.Status != models.StatusAbandoned || len(s.Players) != 0 {
			t.Errorf("Expected abandoned empty session, got %+v", s)
		}
	})

	t.Run("no-op once started", func(t *testing.T) {
		f := newFixture(t, true)
		id := f.startedSession(t, "alice", "bob")

		s, err := f.svc.LeaveSession(context.Background(), id, "bob")
		if err != nil {
			t.Fatalf("LeaveSession failed: %v", err)
		}
		if !reflect.DeepEqual(s.Players, []string{"alice", "bob"}) || s.Status != models.StatusActive {
			t.Errorf("Leave must be ignored once active: %+v", s)
		}
		if len(f.pub.events) != 0 {
			t.Errorf("Ignored leave must not publish, got %v", f.pub.topics())
		}
	})

	t.Run("stranger leaving is a no-op", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		id, _ := f.svc.CreateSession(ctx, "alice")
		f.pub.reset()

		s, _ := f.svc.LeaveSession(ctx, id, "mallory")
		if len(s.Players) != 1 || len(f.pub.events) != 0 {
			t.Errorf("Expected untouched session and no event, got %+v / %v", s, f.pub.topics())
		}
	})
}

func TestSessionService_ChangeStatus(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id, _ := f.svc.CreateSession(ctx, "alice")
	f.svc.JoinSession(ctx, id, "bob")
	f.pub.reset()

	// 非创建者不能修改状态，但仍然广播
	s, err := f.svc.ChangeStatus(ctx, id, "bob", models.StatusActive)
	if err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	if s.Status != models.StatusNew {
		t.Errorf("Non creator must not change status, got %s", s.Status)
	}

	s, _ = f.svc.ChangeStatus(ctx, id, "alice", models.StatusActive)
	if s.Status != models.StatusActive {
		t.Errorf("Expected active, got %s", s.Status)
	}

	// 相同状态再次设置：不变，仍广播
	f.svc.ChangeStatus(ctx, id, "alice", models.StatusActive)

	want := []models.Topic{models.TopicSessionUpdate, models.TopicSessionUpdate, models.TopicSessionUpdate}
	if !reflect.DeepEqual(f.pub.topics(), want) {
		t.Errorf("Expected three session updates, got %v", f.pub.topics())
	}

	points := f.points(t, id)
	if len(points) != 2 || points["alice"] != 0 || points["bob"] != 0 {
		t.Errorf("Expected a zero row per player, got %v", points)
	}
}

func TestSessionService_ReactivateKeepsScores(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.startedSession(t, "alice", "bob")

	f.svc.InitTurn(ctx, id, "alice", "chat")
	f.svc.SubmitGuess(ctx, id, "bob", "chat")
	f.svc.ChangeStatus(ctx, id, "alice", models.StatusNew)
	f.svc.ChangeStatus(ctx, id, "alice", models.StatusActive)

	if points := f.points(t, id); points["bob"] != 1 || points["alice"] != 1 {
		t.Errorf("Reopening scores must keep points, got %v", points)
	}
}

func TestSessionService_SubmitGuess(t *testing.T) {
	tests := []struct {
		name       string
		guesser    string
		word       string
		wantWinner bool
		wantPoints map[string]int
	}{
		{"miss", "bob", "chien", false, map[string]int{"alice": 0, "bob": 0, "carol": 0}},
		{"hit with accents and spaces", "bob", "  CAFÉ noir", true, map[string]int{"alice": 1, "bob": 1, "carol": 0}},
		{"turn master guessing own word", "alice", "cafe noir", true, map[string]int{"alice": 2, "bob": 0, "carol": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()
			id := f.startedSession(t, "alice", "bob", "carol")
			f.svc.InitTurn(ctx, id, "alice", "Café Noir")
			f.pub.reset()

			winner, err := f.svc.SubmitGuess(ctx, id, tt.guesser, tt.word)
			if err != nil {
				t.Fatalf("SubmitGuess failed: %v", err)
			}
			if winner != tt.wantWinner {
				t.Errorf("Expected winner=%v, got %v", tt.wantWinner, winner)
			}
			if points := f.points(t, id); !reflect.DeepEqual(points, tt.wantPoints) {
				t.Errorf("Expected points %v, got %v", tt.wantPoints, points)
			}

			if len(f.pub.events) != 1 {
				t.Fatalf("Expected exactly one GuessUpdate, got %v", f.pub.topics())
			}
			update := f.pub.events[0].Payload.(*models.GuessUpdate)
			if update.Winner != tt.wantWinner || update.Player != tt.guesser ||
				update.Word != tt.word || update.CurrentWord != "Café Noir" {
				t.Errorf("Unexpected guess update: %+v", update)
			}

			s, _ := f.svc.GetSession(ctx, id, "alice")
			if tt.wantWinner && s.TurnWinner != tt.guesser {
				t.Errorf("Expected turn winner %s, got %q", tt.guesser, s.TurnWinner)
			}
			if !tt.wantWinner && s.TurnWinner != "" {
				t.Errorf("A miss must not set a turn winner, got %q", s.TurnWinner)
			}
		})
	}
}

func TestSessionService_SubmitGuessWithoutWord(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id := f.startedSession(t, "alice", "bob")

	winner, err := f.svc.SubmitGuess(ctx, id, "bob", "")
	if err != nil || winner {
		t.Fatalf("Expected a miss without error, got %v %v", winner, err)
	}
	if len(f.pub.events) != 1 {
		t.Errorf("A miss still publishes, got %d", len(f.pub.events))
	}
}

func TestSessionService_SubmitGuessMissingScoreRow(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id := f.startedSession(t, "alice", "bob")
	f.svc.InitTurn(ctx, id, "alice", "chat")
	f.pub.reset()

	// mallory never joined, so has no score row
	for i := 0; i < 3; i++ {
		_, err := f.svc.SubmitGuess(ctx, id, "mallory", "chat")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected NotFound, got %v", err)
		}
	}
	if len(f.pub.events) != 0 {
		t.Errorf("No event expected on failure, got %v", f.pub.topics())
	}
	if got := f.points(t, id); got["alice"] != 0 || got["bob"] != 0 {
		t.Errorf("A rejected guess must not award anyone, got %v", got)
	}
	s, _ := f.svc.GetSession(ctx, id, "alice")
	if s.TurnWinner != "" {
		t.Errorf("Expected no turn winner, got %q", s.TurnWinner)
	}
}

func TestSessionService_TurnMasterGuard(t *testing.T) {
	tests := []struct {
		name    string
		enforce bool
		caller  string
		applied bool
	}{
		{"turn master allowed", true, "alice", true},
		{"other player rejected", true, "bob", false},
		{"guard disabled", false, "bob", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.enforce)
			ctx := context.Background()
			id := f.startedSession(t, "alice", "bob")

			if _, err := f.svc.InitTurn(ctx, id, tt.caller, "chat"); err != nil {
				t.Fatalf("InitTurn failed: %v", err)
			}
			if err := f.svc.ModifyConcept(ctx, id, tt.caller, 0, "c1", models.ConceptAdd); err != nil {
				t.Fatalf("ModifyConcept failed: %v", err)
			}
			if err := f.svc.ModifyConceptsList(ctx, id, tt.caller, 0, models.ConceptAdd); err != nil {
				t.Fatalf("ModifyConceptsList failed: %v", err)
			}

			s, _ := f.svc.GetSession(ctx, id, "alice")
			if got := s.CurrentWord == "chat"; got != tt.applied {
				t.Errorf("InitTurn applied=%v, want %v", got, tt.applied)
			}
			if got := len(s.ConceptsLists) == 2; got != tt.applied {
				t.Errorf("Concept edits applied=%v, want %v (%v)", got, tt.applied, s.ConceptsLists)
			}

			want := []models.Topic{models.TopicSessionUpdate, models.TopicConceptsUpdate, models.TopicConceptsUpdate}
			if !reflect.DeepEqual(f.pub.topics(), want) {
				t.Errorf("Events are published either way, got %v", f.pub.topics())
			}
		})
	}
}

func TestSessionService_ModifyConceptBadIndex(t *testing.T) {
	f := newFixture(t, true)
	id := f.startedSession(t, "alice", "bob")

	err := f.svc.ModifyConcept(context.Background(), id, "alice", 5, "c1", models.ConceptAdd)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}

func TestSessionService_FullGame(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id := f.startedSession(t, "alice", "bob")

	for round := 0; round < 20; round++ {
		s, err := f.svc.GetSession(ctx, id, "alice")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if s.Status == models.StatusOver {
			break
		}
		master := s.TurnMaster()
		guesser := "bob"
		if master == "bob" {
			guesser = "alice"
		}
		f.svc.InitTurn(ctx, id, master, "mot")
		f.svc.StartGuessing(ctx, id, master)
		f.svc.SubmitGuess(ctx, id, guesser, "MOT")
		f.svc.AdvanceTurn(ctx, id, guesser)
	}

	s, _ := f.svc.GetSession(ctx, id, "alice")
	if s.Status != models.StatusOver {
		t.Fatalf("Expected the game to end, got %s", s.Status)
	}
	points := f.points(t, id)
	if points["alice"] != 15 || points["bob"] != 15 {
		t.Errorf("Both players score every round, expected 15/15, got %v", points)
	}
	for _, id := range []string{"alice", "bob"} {
		p, err := f.svc.Players().GetPlayer(ctx, id)
		if err != nil || p.TotalGames != 1 || p.TotalPoints != 15 {
			t.Errorf("Unexpected totals for %s: %+v (%v)", id, p, err)
		}
	}
}

func TestSessionService_GetScoresInRosterOrder(t *testing.T) {
	f := newFixture(t, true)
	id := f.startedSession(t, "zoe", "adam", "mia")

	scores, err := f.svc.GetScores(context.Background(), id, "zoe")
	if err != nil {
		t.Fatalf("GetScores failed: %v", err)
	}
	var order []string
	for _, s := range scores {
		order = append(order, s.PlayerID)
	}
	if !reflect.DeepEqual(order, []string{"zoe", "adam", "mia"}) {
		t.Errorf("Expected roster order, got %v", order)
	}
}

func TestSessionService_ExpiryAndReap(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id, _ := f.svc.CreateSession(ctx, "alice")

	f.now = f.now.Add(12 * time.Hour)
	if _, err := f.svc.GetSession(ctx, id, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expired session should be NotFound, got %v", err)
	}

	ids, err := f.svc.Reap(ctx, f.now.Add(time.Second))
	if err != nil {
		t.Fatalf("Reap failed: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{id}) {
		t.Errorf("Expected %s reaped, got %v", id, ids)
	}
}

func TestSessionService_Unauthenticated(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if _, err := f.svc.CreateSession(ctx, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Expected Unauthenticated, got %v", err)
	}
	if _, err := f.svc.Execute(ctx, "", Command{Op: OpGetSession, SessionID: "x"}); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Expected Unauthenticated, got %v", err)
	}
}

func TestSessionService_Execute(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, err := f.svc.Execute(ctx, "alice", Command{Op: OpCreateSession})
	if err != nil {
		t.Fatalf("createSession failed: %v", err)
	}
	id := res.(SessionRef).SessionID

	steps := []struct {
		caller string
		cmd    Command
	}{
		{"bob", Command{Op: OpJoinSession, SessionID: id}},
		{"alice", Command{Op: OpChangeStatus, SessionID: id, Status: "active"}},
		{"alice", Command{Op: OpInitTurn, SessionID: id, Word: "chat"}},
		{"alice", Command{Op: OpModifyConcept, SessionID: id, ListIndex: 0, ConceptID: "c1", Action: "add"}},
		{"alice", Command{Op: OpModifyConceptsList, SessionID: id, Action: "add"}},
		{"alice", Command{Op: OpStartGuessing, SessionID: id}},
		{"bob", Command{Op: OpSubmitGuess, SessionID: id, Word: "Chat"}},
	}
	for _, step := range steps {
		if _, err := f.svc.Execute(ctx, step.caller, step.cmd); err != nil {
			t.Fatalf("%s failed: %v", step.cmd.Op, err)
		}
	}

	res, err = f.svc.Execute(ctx, "bob", Command{Op: OpGetSession, SessionID: id})
	if err != nil {
		t.Fatalf("getSession failed: %v", err)
	}
	s := res.(*models.Session)
	if s.Status != models.StatusActive || s.Step != models.StepGuessing || s.TurnWinner != "bob" {
		t.Errorf("Unexpected session: %+v", s)
	}
	if !reflect.DeepEqual(s.ConceptsLists, [][]string{{"c1"}, {}}) {
		t.Errorf("Unexpected concepts: %v", s.ConceptsLists)
	}

	res, err = f.svc.Execute(ctx, "bob", Command{Op: OpAdvanceTurn, SessionID: id})
	if err != nil || res.(SessionRef).SessionID != id {
		t.Fatalf("advanceTurn returned %v, %v", res, err)
	}
}

func TestSessionService_ExecuteInvalid(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id, _ := f.svc.CreateSession(ctx, "alice")

	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"unknown op", Command{Op: "explode", SessionID: id}, ErrInvalidArgument},
		{"missing session id", Command{Op: OpJoinSession}, ErrInvalidArgument},
		{"bad status", Command{Op: OpChangeStatus, SessionID: id, Status: "paused"}, ErrInvalidArgument},
		{"missing session", Command{Op: OpGetSession, SessionID: "nope"}, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Execute(ctx, "alice", tt.cmd); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestError_GRPCAndHTTPMapping(t *testing.T) {
	tests := []struct {
		err      error
		grpcCode codes.Code
		http     int
	}{
		{ErrUnauthenticated, codes.Unauthenticated, 401},
		{translate("op", persistence.ErrRecordNotFound), codes.NotFound, 404},
		{translate("op", fmt.Errorf("wrapped: %w", persistence.ErrConflict)), codes.Aborted, 409},
		{ErrInvalidArgument, codes.InvalidArgument, 400},
		{translate("op", errors.New("disk on fire")), codes.Internal, 500},
	}

	for _, tt := range tests {
		if got := status.Code(tt.err); got != tt.grpcCode {
			t.Errorf("%v: expected grpc %s, got %s", tt.err, tt.grpcCode, got)
		}
		if got := CodeOf(tt.err).HTTPStatus(); got != tt.http {
			t.Errorf("%v: expected http %d, got %d", tt.err, tt.http, got)
		}
	}
}

func TestSessionService_ConceptLimitIsInvalidArgument(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id := f.startedSession(t, "alice", "bob")

	long := strings.Repeat("x", 200)
	err := f.svc.ModifyConcept(ctx, id, "alice", 0, long, models.ConceptAdd)
	if CodeOf(err) != CodeInvalidArgument {
		t.Errorf("Expected INVALID_ARGUMENT, got %v", err)
	}
}
