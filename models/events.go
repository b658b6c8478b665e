package models

import (
	"encoding/json"
	"fmt"
)

// Topic names an event stream.
type Topic int

const (
	TopicPlayerUpdate Topic = iota
	TopicSessionUpdate
	TopicGuessUpdate
	TopicConceptsUpdate
)

// Topics lists every topic in declaration order.
var Topics = []Topic{TopicPlayerUpdate, TopicSessionUpdate, TopicGuessUpdate, TopicConceptsUpdate}

var topicNames = [...]string{"PLAYER_UPDATE", "SESSION_UPDATE", "GUESS_UPDATE", "CONCEPTS_UPDATE"}

func (t Topic) String() string {
	if t < 0 || int(t) >= len(topicNames) {
		return fmt.Sprintf("Topic(%d)", int(t))
	}
	return topicNames[t]
}

func ParseTopic(name string) (Topic, error) {
	for i, n := range topicNames {
		if n == name {
			return Topic(i), nil
		}
	}
	return 0, fmt.Errorf("unknown topic %q", name)
}

func (t Topic) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(topicNames) {
		return nil, fmt.Errorf("invalid topic %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Topic) UnmarshalText(text []byte) error {
	parsed, err := ParseTopic(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// PlayerUpdate is published when the roster or creator changes.
type PlayerUpdate struct {
	SessionID string          `json:"sessionId"`
	Players   []string        `json:"players"`
	Creator   string          `json:"creator"`
	Profiles  []PlayerProfile `json:"profiles,omitempty"`
}

// SessionUpdate carries the whole session after a lifecycle or turn change.
type SessionUpdate struct {
	Session *Session `json:"session"`
}

// GuessUpdate is published for every guess, right or wrong.
type GuessUpdate struct {
	SessionID   string `json:"sessionId"`
	Word        string `json:"word"`
	CurrentWord string `json:"currentWord"`
	Player      string `json:"player"`
	Winner      bool   `json:"winner"`
}

// ConceptsUpdate carries the concept lists after an edit.
type ConceptsUpdate struct {
	SessionID string     `json:"sessionId"`
	Concepts  [][]string `json:"concepts"`
}

// Event is one published payload. Payload is one of the *Update types above.
type Event struct {
	Topic     Topic  `json:"topic"`
	SessionID string `json:"sessionId"`
	Payload   any    `json:"payload"`
}

// UnmarshalJSON decodes Payload into the concrete type matching Topic.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Topic     Topic           `json:"topic"`
		SessionID string          `json:"sessionId"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var payload any
	switch raw.Topic {
	case TopicPlayerUpdate:
		payload = &PlayerUpdate{}
	case TopicSessionUpdate:
		payload = &SessionUpdate{}
	case TopicGuessUpdate:
		payload = &GuessUpdate{}
	case TopicConceptsUpdate:
		payload = &ConceptsUpdate{}
	}
	if err := json.Unmarshal(raw.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", raw.Topic, err)
	}

	e.Topic = raw.Topic
	e.SessionID = raw.SessionID
	e.Payload = payload
	return nil
}

func NewPlayerUpdate(s *Session, profiles []PlayerProfile) Event {
	return Event{
		Topic:     TopicPlayerUpdate,
		SessionID: s.ID,
		Payload: &PlayerUpdate{
			SessionID: s.ID,
			Players:   append([]string{}, s.Players...),
			Creator:   s.Creator,
			Profiles:  profiles,
		},
	}
}

func NewSessionUpdate(s *Session) Event {
	return Event{
		Topic:     TopicSessionUpdate,
		SessionID: s.ID,
		Payload:   &SessionUpdate{Session: s.Clone()},
	}
}

func NewGuessUpdate(sessionID, word, currentWord, player string, winner bool) Event {
	return Event{
		Topic:     TopicGuessUpdate,
		SessionID: sessionID,
		Payload: &GuessUpdate{
			SessionID:   sessionID,
			Word:        word,
			CurrentWord: currentWord,
			Player:      player,
			Winner:      winner,
		},
	}
}

func NewConceptsUpdate(s *Session) Event {
	return Event{
		Topic:     TopicConceptsUpdate,
		SessionID: s.ID,
		Payload: &ConceptsUpdate{
			SessionID: s.ID,
			Concepts:  CloneConceptsLists(s.ConceptsLists),
		},
	}
}
