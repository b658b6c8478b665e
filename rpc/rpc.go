package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/rpc"

	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/services"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	rpc      *rpc.Server
	address  string
}

// NewServer listens on addr and registers the game service.
func NewServer(addr string, game *GameService) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newServer(listener, game)
}

func newServer(listener net.Listener, game *GameService) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("GameService", game); err != nil {
		listener.Close()
		return nil, err
	}
	return &Server{
		listener: listener,
		rpc:      srv,
		address:  listener.Addr().String(),
	}, nil
}

func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// GameService exposes session commands to trusted backends, such as the
// identity provider or an admin tool. Callers are asserted, not verified.
type GameService struct {
	sessions *services.SessionService
}

func NewGameService(sessions *services.SessionService) *GameService {
	return &GameService{sessions: sessions}
}

type ExecuteArgs struct {
	Caller  string
	Command services.Command
}

type ExecuteReply struct {
	// Result is the JSON encoded operation result, empty when there is none.
	Result json.RawMessage
}

// Execute runs one command. Errors come back as "CODE: message" strings since
// net/rpc only carries the text.
func (gs *GameService) Execute(args *ExecuteArgs, reply *ExecuteReply) error {
	result, err := gs.sessions.Execute(context.Background(), args.Caller, args.Command)
	if err != nil {
		return wireError(err)
	}
	if result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return wireError(err)
	}
	reply.Result = data
	return nil
}

type GetPlayerArgs struct {
	PlayerID string
}

type GetPlayerReply struct {
	Player *models.Player
}

func (gs *GameService) GetPlayer(args *GetPlayerArgs, reply *GetPlayerReply) error {
	player, err := gs.sessions.Players().GetPlayer(context.Background(), args.PlayerID)
	if err != nil {
		return wireError(err)
	}
	reply.Player = player
	return nil
}

func wireError(err error) error {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		logger.Log.Errorf("RPC call failed: %v", err)
		svcErr = services.ErrInternal
	}
	return fmt.Errorf("%s: %s", svcErr.Code, svcErr.Message)
}
