package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"github.com/wfunc/esquisse/services"
)

const qrSize = 320

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, err error) {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		svcErr = services.ErrInternal
	}
	message := svcErr.Message
	if svcErr.Code == services.CodeInternal {
		message = "internal error"
	}
	c.JSON(svcErr.Code.HTTPStatus(), errorBody{Code: string(svcErr.Code), Message: message})
}

func (s *GameServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"peers":    s.peers.Count(),
		"sessions": s.rooms.Count(),
		"uptime":   s.monitor.Uptime().Round(time.Second).String(),
	})
}

func (s *GameServer) handleCreateSession(c *gin.Context) {
	caller := callerFrom(c)
	result, err := s.execute(c.Request.Context(), caller.ID, services.Command{Op: services.OpCreateSession})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// binder fills command fields from the request body.
type binder func(c *gin.Context, cmd *services.Command) error

func bindStatus(c *gin.Context, cmd *services.Command) error {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return err
	}
	cmd.Status = req.Status
	return nil
}

func bindWord(c *gin.Context, cmd *services.Command) error {
	var req struct {
		Word string `json:"word"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return err
	}
	cmd.Word = req.Word
	return nil
}

func bindConcept(c *gin.Context, cmd *services.Command) error {
	var req struct {
		ListIndex *int   `json:"list_index" binding:"required"`
		ConceptID string `json:"concept_id" binding:"required"`
		Action    string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return err
	}
	cmd.ListIndex = *req.ListIndex
	cmd.ConceptID = req.ConceptID
	cmd.Action = req.Action
	return nil
}

func bindConceptsList(c *gin.Context, cmd *services.Command) error {
	var req struct {
		ListIndex int    `json:"list_index"`
		Action    string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return err
	}
	cmd.ListIndex = req.ListIndex
	cmd.Action = req.Action
	return nil
}

// handleCommand maps one route onto one command op.
func (s *GameServer) handleCommand(op services.Op, bind binder) gin.HandlerFunc {
	return func(c *gin.Context) {
		cmd := services.Command{Op: op, SessionID: c.Param("id")}
		if bind != nil {
			if err := bind(c, &cmd); err != nil {
				c.JSON(http.StatusBadRequest, errorBody{Code: string(services.CodeInvalidArgument), Message: err.Error()})
				return
			}
		}

		result, err := s.execute(c.Request.Context(), callerFrom(c).ID, cmd)
		if err != nil {
			writeError(c, err)
			return
		}
		if result == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *GameServer) handleMe(c *gin.Context) {
	caller := callerFrom(c)
	player, err := s.service.Players().GetPlayer(c.Request.Context(), caller.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, player)
}

// handleQR 生成会话邀请链接的二维码
func (s *GameServer) handleQR(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, errorBody{Code: string(services.CodeInvalidArgument), Message: "missing session id"})
		return
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	path := strings.TrimSuffix(c.Request.URL.Path, "/qr") + "/join"
	url := scheme + "://" + c.Request.Host + path

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
