package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/network"
	"github.com/wfunc/esquisse/peer"
	"github.com/wfunc/esquisse/services"
)

func (s *GameServer) handleWebSocket(c *gin.Context) {
	caller := callerFrom(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}

	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(s.opts.Heartbeat)
	p := peer.NewPeer(uuid.New().String(), caller, wsConn)
	s.serve(c.Request.Context(), p)
}

// serve 处理一个连接直到断开
func (s *GameServer) serve(ctx context.Context, p *peer.Peer) {
	s.peers.Add(p)
	s.monitor.IncOnlinePeers()
	logger.Log.Infof("New connection from %s, player %s, peer %s", p.Conn.RemoteAddr(), p.PlayerID(), p.ID)

	defer func() {
		logger.Log.Infof("Connection closed from %s, peer %s", p.Conn.RemoteAddr(), p.ID)
		s.peers.Remove(p.ID)
		s.monitor.DecOnlinePeers()
		p.Close()
	}()

	for {
		packet, err := p.Conn.ReadPacket()
		if err != nil {
			return
		}
		s.monitor.IncMessagesReceived()
		s.handlePacket(ctx, p, packet)
	}
}

func (s *GameServer) handlePacket(ctx context.Context, p *peer.Peer, packet *network.Packet) {
	p.Touch()

	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		p.Conn.Send(network.MsgTypeHeartbeat, nil)
	case network.MsgTypeSubscribe:
		s.handleSubscribe(ctx, p, packet.Data, true)
	case network.MsgTypeUnsubscribe:
		s.handleSubscribe(ctx, p, packet.Data, false)
	case network.MsgTypeCommand:
		s.handleCommandPacket(ctx, p, packet.Data)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

type subscribeResult struct {
	Subscribed bool `json:"subscribed"`
}

func (s *GameServer) handleSubscribe(ctx context.Context, p *peer.Peer, data []byte, subscribe bool) {
	req, err := network.DecodeSubscribeRequest(data)
	if errors.Is(err, network.ErrMissingTopic) {
		s.reply(p, req.RequestID, nil, &services.Error{Code: services.CodeInvalidArgument, Message: err.Error(), Err: err})
		return
	}
	if err != nil {
		s.reply(p, "", nil, &services.Error{Code: services.CodeInvalidArgument, Message: "malformed subscription", Err: err})
		return
	}

	if !subscribe {
		p.Unsubscribe(req.Topic, req.SessionID)
		s.reply(p, req.RequestID, subscribeResult{Subscribed: false}, nil)
		return
	}

	// 只能订阅存在的会话
	if _, err := s.service.GetSession(ctx, req.SessionID, p.PlayerID()); err != nil {
		s.reply(p, req.RequestID, nil, err)
		return
	}
	p.Subscribe(s.bus, req.Topic, req.SessionID)
	s.reply(p, req.RequestID, subscribeResult{Subscribed: true}, nil)
}

func (s *GameServer) handleCommandPacket(ctx context.Context, p *peer.Peer, data []byte) {
	var cmd services.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.reply(p, "", nil, &services.Error{Code: services.CodeInvalidArgument, Message: "malformed command", Err: err})
		return
	}

	result, err := s.execute(ctx, p.PlayerID(), cmd)
	s.reply(p, cmd.RequestID, result, err)
}

func (s *GameServer) reply(p *peer.Peer, requestID string, result any, err error) {
	r := network.Reply{RequestID: requestID}
	if err != nil {
		var svcErr *services.Error
		if !errors.As(err, &svcErr) {
			svcErr = services.ErrInternal
		}
		r.Error = &network.Fault{Code: string(svcErr.Code), Message: svcErr.Message}
	} else {
		r.Result = result
	}

	err = p.Send(network.MsgTypeReply, r)
	if errors.Is(err, network.ErrPayloadTooLarge) {
		// 结果超出单包上限，告知客户端而不是静默丢弃
		logger.Log.Warnf("Reply %s to peer %s exceeds %d bytes", requestID, p.ID, network.MaxPayload)
		err = p.Send(network.MsgTypeReply, network.Reply{
			RequestID: requestID,
			Error:     &network.Fault{Code: string(services.CodeInternal), Message: "reply too large"},
		})
	}
	if err != nil {
		logger.Log.Debugf("Failed to reply to peer %s: %v", p.ID, err)
	}
}
