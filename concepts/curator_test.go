package concepts

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/persistence"
)

type recordingPublisher struct {
	events []models.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e models.Event) {
	p.events = append(p.events, e)
}

func setup(t *testing.T, lists [][]string, removal RemovalMode) (*Curator, *recordingPublisher, *persistence.Memory) {
	t.Helper()
	ctx := context.Background()
	store := persistence.NewMemory()
	s := models.NewSession("s1", "alice", time.Now())
	s.ConceptsLists = lists
	if err := store.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	pub := &recordingPublisher{}
	return NewCurator(persistence.NewUpdater(store, nil, 3, 0), pub, removal), pub, store
}

func TestCurator_ModifyConcept(t *testing.T) {
	tests := []struct {
		name    string
		lists   [][]string
		removal RemovalMode
		index   int
		concept string
		action  models.ConceptAction
		want    [][]string
	}{
		{"add appends", [][]string{{"a"}}, KeepOnly, 0, "b", models.ConceptAdd, [][]string{{"a", "b"}}},
		{"add allows duplicates", [][]string{{"a"}}, KeepOnly, 0, "a", models.ConceptAdd, [][]string{{"a", "a"}}},
		{"keep only", [][]string{{"a", "b", "a", "c"}}, KeepOnly, 0, "a", models.ConceptRemove, [][]string{{"a", "a"}}},
		{"remove matching", [][]string{{"a", "b", "a", "c"}}, RemoveMatching, 0, "a", models.ConceptRemove, [][]string{{"b", "c"}}},
		{"second list", [][]string{{"a"}, {"x", "y"}}, RemoveMatching, 1, "y", models.ConceptRemove, [][]string{{"a"}, {"x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			curator, pub, _ := setup(t, tt.lists, tt.removal)
			s, err := curator.ModifyConcept(context.Background(), "s1", tt.index, tt.concept, tt.action, nil)
			if err != nil {
				t.Fatalf("ModifyConcept failed: %v", err)
			}
			if !reflect.DeepEqual(s.ConceptsLists, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, s.ConceptsLists)
			}
			if len(pub.events) != 1 || pub.events[0].Topic != models.TopicConceptsUpdate {
				t.Fatalf("Expected one ConceptsUpdate, got %+v", pub.events)
			}
			got := pub.events[0].Payload.(*models.ConceptsUpdate).Concepts
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Published %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCurator_ModifyConceptOutOfRange(t *testing.T) {
	curator, pub, _ := setup(t, [][]string{{}}, KeepOnly)
	_, err := curator.ModifyConcept(context.Background(), "s1", 3, "a", models.ConceptAdd, nil)
	if !errors.Is(err, ErrListIndexOutOfRange) {
		t.Fatalf("Expected ErrListIndexOutOfRange, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Errorf("No event expected on error, got %d", len(pub.events))
	}
}

func TestCurator_ModifyConceptsList(t *testing.T) {
	tests := []struct {
		name   string
		index  int
		action models.ConceptAction
		want   [][]string
	}{
		{"remove middle", 1, models.ConceptRemove, [][]string{{"a"}, {"c"}}},
		{"remove past end is a no-op", 7, models.ConceptRemove, [][]string{{"a"}, {"b"}, {"c"}}},
		{"add empty list", 0, models.ConceptAdd, [][]string{{"a"}, {"b"}, {"c"}, {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			curator, pub, store := setup(t, [][]string{{"a"}, {"b"}, {"c"}}, KeepOnly)
			if _, err := curator.ModifyConceptsList(context.Background(), "s1", tt.index, tt.action, nil); err != nil {
				t.Fatalf("ModifyConceptsList failed: %v", err)
			}
			stored, _ := store.LoadSession(context.Background(), "s1")
			if !reflect.DeepEqual(stored.ConceptsLists, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, stored.ConceptsLists)
			}
			if len(pub.events) != 1 {
				t.Errorf("Expected one event, got %d", len(pub.events))
			}
		})
	}
}

func TestCurator_RejectedPreconditionStillPublishes(t *testing.T) {
	curator, pub, store := setup(t, [][]string{{"a"}}, KeepOnly)
	deny := func(*models.Session) bool { return false }

	if _, err := curator.ModifyConcept(context.Background(), "s1", 0, "b", models.ConceptAdd, deny); err != nil {
		t.Fatalf("ModifyConcept failed: %v", err)
	}
	if _, err := curator.ModifyConceptsList(context.Background(), "s1", 0, models.ConceptRemove, deny); err != nil {
		t.Fatalf("ModifyConceptsList failed: %v", err)
	}

	stored, _ := store.LoadSession(context.Background(), "s1")
	if !reflect.DeepEqual(stored.ConceptsLists, [][]string{{"a"}}) || stored.Version != 0 {
		t.Errorf("Rejected edits must not change the session: %+v", stored)
	}
	if len(pub.events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(pub.events))
	}
}

func TestParseRemovalMode(t *testing.T) {
	if m, err := ParseRemovalMode("remove"); err != nil || m != RemoveMatching {
		t.Errorf("Expected RemoveMatching, got %v %v", m, err)
	}
	if m, err := ParseRemovalMode(""); err != nil || m != KeepOnly {
		t.Errorf("Expected KeepOnly default, got %v %v", m, err)
	}
	if _, err := ParseRemovalMode("shred"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func TestCurator_Limits(t *testing.T) {
	ctx := context.Background()

	full := make([]string, MaxConceptsPerList)
	for i := range full {
		full[i] = "c"
	}
	curator, pub, _ := setup(t, [][]string{full}, KeepOnly)
	if _, err := curator.ModifyConcept(ctx, "s1", 0, "one-more", models.ConceptAdd, nil); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("Expected ErrLimitExceeded for a full list, got %v", err)
	}

	curator, _, _ = setup(t, [][]string{{}}, KeepOnly)
	long := strings.Repeat("x", MaxConceptIDLength+1)
	if _, err := curator.ModifyConcept(ctx, "s1", 0, long, models.ConceptAdd, nil); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("Expected ErrLimitExceeded for a long concept id, got %v", err)
	}

	curator, _, store := setup(t, [][]string{{}}, KeepOnly)
	for i := 1; i < MaxConceptLists; i++ {
		if _, err := curator.ModifyConceptsList(ctx, "s1", 0, models.ConceptAdd, nil); err != nil {
			t.Fatalf("ModifyConceptsList failed at %d: %v", i, err)
		}
	}
	if _, err := curator.ModifyConceptsList(ctx, "s1", 0, models.ConceptAdd, nil); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("Expected ErrLimitExceeded past %d lists, got %v", MaxConceptLists, err)
	}
	s, _ := store.LoadSession(ctx, "s1")
	if len(s.ConceptsLists) != MaxConceptLists {
		t.Errorf("Expected %d lists, got %d", MaxConceptLists, len(s.ConceptsLists))
	}
	if len(pub.events) != 0 {
		t.Errorf("Rejected edits must not publish, got %d events", len(pub.events))
	}
}
