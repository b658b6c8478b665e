package network

import (
	"encoding/json"
	"errors"

	"github.com/wfunc/esquisse/models"
)

var ErrMissingTopic = errors.New("subscription topic is required")

const (
	MsgTypeHeartbeat = 1

	// 客户端 -> 服务器
	MsgTypeSubscribe   = 10
	MsgTypeUnsubscribe = 11
	MsgTypeCommand     = 20

	// 服务器 -> 客户端
	MsgTypeReply = 21

	MsgTypePlayerUpdate   = 301
	MsgTypeSessionUpdate  = 302
	MsgTypeGuessUpdate    = 303
	MsgTypeConceptsUpdate = 304
)

// EventMsgType returns the packet id used to push events of topic.
func EventMsgType(topic models.Topic) uint16 {
	switch topic {
	case models.TopicPlayerUpdate:
		return MsgTypePlayerUpdate
	case models.TopicSessionUpdate:
		return MsgTypeSessionUpdate
	case models.TopicGuessUpdate:
		return MsgTypeGuessUpdate
	default:
		return MsgTypeConceptsUpdate
	}
}

// SubscribeRequest is the body of subscribe and unsubscribe packets.
type SubscribeRequest struct {
	RequestID string       `json:"requestId,omitempty"`
	Topic     models.Topic `json:"topic"`
	SessionID string       `json:"sessionId"`
}

// DecodeSubscribeRequest parses a subscribe or unsubscribe body. The topic
// must be present; its zero value is a real topic.
func DecodeSubscribeRequest(data []byte) (SubscribeRequest, error) {
	var raw struct {
		RequestID string        `json:"requestId"`
		Topic     *models.Topic `json:"topic"`
		SessionID string        `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return SubscribeRequest{}, err
	}
	req := SubscribeRequest{RequestID: raw.RequestID, SessionID: raw.SessionID}
	if raw.Topic == nil {
		return req, ErrMissingTopic
	}
	req.Topic = *raw.Topic
	return req, nil
}

// Reply answers a command packet. Error is set instead of Result on failure.
type Reply struct {
	RequestID string `json:"requestId,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     *Fault `json:"error,omitempty"`
}

type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
