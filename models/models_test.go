package models

import (
	"encoding/json"
	"slices"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "new", want: StatusNew},
		{in: "active", want: StatusActive},
		{in: "over", want: StatusOver},
		{in: "abandoned", want: StatusAbandoned},
		{in: "abandonned", want: StatusAbandoned},
		{in: "paused", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseStatus(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSessionJSONUsesNames(t *testing.T) {
	s := NewSession("g1", "alice", time.Unix(0, 0).UTC())
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["status"] != "new" {
		t.Errorf("Expected status \"new\", got %v", raw["status"])
	}
	if raw["step"] != "selectWord" {
		t.Errorf("Expected step \"selectWord\", got %v", raw["step"])
	}

	var back Session
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if back.Status != StatusNew || back.Step != StepSelectWord {
		t.Errorf("Round trip lost enums: %v %v", back.Status, back.Step)
	}
}

func TestParseConceptAction(t *testing.T) {
	if ParseConceptAction("add") != ConceptAdd {
		t.Error("Expected add to parse as ConceptAdd")
	}
	for _, in := range []string{"remove", "delete", ""} {
		if ParseConceptAction(in) != ConceptRemove {
			t.Errorf("Expected %q to parse as ConceptRemove", in)
		}
	}
}

func TestSession_AddPlayerIsIdempotent(t *testing.T) {
	s := NewSession("g1", "alice", time.Now())

	if !s.AddPlayer("bob") {
		t.Fatal("Expected first join to change the roster")
	}
	if s.AddPlayer("bob") {
		t.Fatal("Expected second join to be a no-op")
	}
	if !slices.Equal(s.Players, []string{"alice", "bob"}) {
		t.Errorf("Unexpected players: %v", s.Players)
	}
}

func TestSession_RemovePlayer(t *testing.T) {
	t.Run("creator transfers to next in join order", func(t *testing.T) {
		s := NewSession("g1", "alice", time.Now())
		s.AddPlayer("bob")
		s.AddPlayer("carol")

		s.RemovePlayer("alice")

		if s.Creator != "bob" {
			t.Errorf("Expected bob to become creator, got %s", s.Creator)
		}
		if !slices.Equal(s.Players, []string{"bob", "carol"}) {
			t.Errorf("Unexpected players: %v", s.Players)
		}
	})

	t.Run("last player abandons", func(t *testing.T) {
		s := NewSession("g1", "alice", time.Now())
		s.RemovePlayer("alice")

		if s.Status != StatusAbandoned {
			t.Errorf("Expected abandoned, got %v", s.Status)
		}
		if len(s.Players) != 0 {
			t.Errorf("Expected no players, got %v", s.Players)
		}
	})

	t.Run("turn stays in range", func(t *testing.T) {
		s := NewSession("g1", "alice", time.Now())
		s.AddPlayer("bob")
		s.Turn = 1

		s.RemovePlayer("bob")

		if s.Turn != 0 {
			t.Errorf("Expected turn 0, got %d", s.Turn)
		}
	})

	t.Run("unknown player", func(t *testing.T) {
		s := NewSession("g1", "alice", time.Now())
		if s.RemovePlayer("zed") {
			t.Error("Expected removing an unknown player to report no change")
		}
	})
}

func TestSession_Expired(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSession("g1", "alice", created)

	if s.Expired(created.Add(DefaultSessionTTL-time.Second), DefaultSessionTTL) {
		t.Error("Session should not expire before the ttl")
	}
	if !s.Expired(created.Add(DefaultSessionTTL), DefaultSessionTTL) {
		t.Error("Session should expire at the ttl")
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := NewSession("g1", "alice", time.Now())
	s.ConceptsLists = [][]string{{"a"}}

	c := s.Clone()
	c.Players[0] = "mallory"
	c.ConceptsLists[0][0] = "z"

	if s.Players[0] != "alice" || s.ConceptsLists[0][0] != "a" {
		t.Error("Clone shares backing arrays with the original")
	}
}

func TestEventJSONDecodesTypedPayload(t *testing.T) {
	s := NewSession("g1", "alice", time.Now())
	ev := NewConceptsUpdate(s)

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Topic != TopicConceptsUpdate || back.SessionID != "g1" {
		t.Errorf("Unexpected envelope: %+v", back)
	}
	payload, ok := back.Payload.(*ConceptsUpdate)
	if !ok {
		t.Fatalf("Expected *ConceptsUpdate payload, got %T", back.Payload)
	}
	if len(payload.Concepts) != 1 || len(payload.Concepts[0]) != 0 {
		t.Errorf("Unexpected concepts: %v", payload.Concepts)
	}
}

func TestGormSessionRoundTrip(t *testing.T) {
	s := NewSession("g1", "alice", time.Unix(100, 0).UTC())
	s.AddPlayer("bob")
	s.Status = StatusActive
	s.Step = StepGuessing
	s.ConceptsLists = [][]string{{"c1", "c2"}, {}}
	s.Version = 3

	row, err := ToGormSession(s)
	if err != nil {
		t.Fatalf("ToGormSession: %v", err)
	}
	back, err := row.ToSession()
	if err != nil {
		t.Fatalf("ToSession: %v", err)
	}

	if back.Status != StatusActive || back.Step != StepGuessing || back.Version != 3 {
		t.Errorf("Unexpected decoded session: %+v", back)
	}
	if !slices.Equal(back.Players, s.Players) {
		t.Errorf("Players mismatch: %v vs %v", back.Players, s.Players)
	}
	if len(back.ConceptsLists) != 2 || back.ConceptsLists[0][1] != "c2" {
		t.Errorf("Concepts mismatch: %v", back.ConceptsLists)
	}
}
