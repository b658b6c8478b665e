// Package concepts edits the candidate concept lists of the current turn.
package concepts

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/wfunc/esquisse/broadcast"
	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/persistence"
)

var (
	ErrListIndexOutOfRange = errors.New("concept list index out of range")
	ErrLimitExceeded       = errors.New("concept limit exceeded")
)

// Limits keep a session small enough to fit in one websocket packet.
const (
	MaxConceptLists    = 16
	MaxConceptsPerList = 32
	MaxConceptIDLength = 64
)

// RemovalMode selects what a non-add concept edit does to the target list.
type RemovalMode int

const (
	// KeepOnly keeps only the elements equal to the concept.
	KeepOnly RemovalMode = iota
	// RemoveMatching drops the elements equal to the concept.
	RemoveMatching
)

func ParseRemovalMode(name string) (RemovalMode, error) {
	switch name {
	case "", "keep_only":
		return KeepOnly, nil
	case "remove":
		return RemoveMatching, nil
	}
	return 0, fmt.Errorf("unknown concept removal mode %q", name)
}

func (m RemovalMode) String() string {
	if m == RemoveMatching {
		return "remove"
	}
	return "keep_only"
}

type Curator struct {
	updater   *persistence.Updater
	publisher broadcast.Publisher
	removal   RemovalMode
}

func NewCurator(updater *persistence.Updater, publisher broadcast.Publisher, removal RemovalMode) *Curator {
	return &Curator{updater: updater, publisher: publisher, removal: removal}
}

// ModifyConcept adds conceptID to list listIndex, or applies the removal mode
// for any other action. A rejected precondition leaves the lists unchanged but
// still publishes them.
func (c *Curator) ModifyConcept(ctx context.Context, sessionID string, listIndex int, conceptID string,
	action models.ConceptAction, allow models.Precondition) (*models.Session, error) {
	s, err := c.updater.Update(ctx, sessionID, func(s *models.Session) (bool, error) {
		if !allow.Allows(s) {
			return false, nil
		}
		if listIndex < 0 || listIndex >= len(s.ConceptsLists) {
			return false, fmt.Errorf("%w: %d of %d", ErrListIndexOutOfRange, listIndex, len(s.ConceptsLists))
		}
		list := s.ConceptsLists[listIndex]
		if action == models.ConceptAdd {
			if len(conceptID) > MaxConceptIDLength {
				return false, fmt.Errorf("%w: concept id longer than %d bytes", ErrLimitExceeded, MaxConceptIDLength)
			}
			if len(list) >= MaxConceptsPerList {
				return false, fmt.Errorf("%w: list %d already holds %d concepts", ErrLimitExceeded, listIndex, MaxConceptsPerList)
			}
			s.ConceptsLists[listIndex] = append(list, conceptID)
			return true, nil
		}
		s.ConceptsLists[listIndex] = c.removeFrom(list, conceptID)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	c.publisher.Publish(ctx, models.NewConceptsUpdate(s))
	return s, nil
}

func (c *Curator) removeFrom(list []string, conceptID string) []string {
	out := make([]string, 0, len(list))
	for _, id := range list {
		if (id == conceptID) == (c.removal == KeepOnly) {
			out = append(out, id)
		}
	}
	return out
}

// ModifyConceptsList appends an empty list on add and otherwise deletes the
// list at listIndex. Deleting past the end changes nothing.
func (c *Curator) ModifyConceptsList(ctx context.Context, sessionID string, listIndex int,
	action models.ConceptAction, allow models.Precondition) (*models.Session, error) {
	s, err := c.updater.Update(ctx, sessionID, func(s *models.Session) (bool, error) {
		if !allow.Allows(s) {
			return false, nil
		}
		if action == models.ConceptAdd {
			if len(s.ConceptsLists) >= MaxConceptLists {
				return false, fmt.Errorf("%w: at most %d lists", ErrLimitExceeded, MaxConceptLists)
			}
			s.ConceptsLists = append(s.ConceptsLists, []string{})
			return true, nil
		}
		if listIndex < 0 {
			return false, fmt.Errorf("%w: %d", ErrListIndexOutOfRange, listIndex)
		}
		if listIndex >= len(s.ConceptsLists) {
			return false, nil
		}
		s.ConceptsLists = slices.Delete(s.ConceptsLists, listIndex, listIndex+1)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	c.publisher.Publish(ctx, models.NewConceptsUpdate(s))
	return s, nil
}
