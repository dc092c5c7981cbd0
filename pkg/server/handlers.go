package server

import (
	"fmt"
	"net/http"

	"avatarlink/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

// HandleOffer 处理新会话请求：请求体是终端用户侧的 SDP offer
func (s *AvatarServer) HandleOffer(c *gin.Context) {
	var offer webrtc.SessionDescription
	if err := c.BindJSON(&offer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse offer"})
		return
	}

	localDescription, sessionID, err := s.HandleNewConnection(&offer)
	if err != nil {
		logger.Error("failed to start session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.Info("sessionID: %s", sessionID)

	location := fmt.Sprintf("/sessions/%s", sessionID)
	c.Header("Location", location)

	c.JSON(http.StatusCreated, localDescription)
}

// HandleDelete 关闭并删除会话
func (s *AvatarServer) HandleDelete(c *gin.Context) {
	sessionID := c.Param("id")

	s.DelConnection(sessionID)
	c.Status(http.StatusOK)
}

// HandleStats 会话的可观测计数
func (s *AvatarServer) HandleStats(c *gin.Context) {
	sessionID := c.Param("id")

	conn, exists := s.GetConnection(sessionID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, conn.Stats())
}

type sayRequest struct {
	Text string `json:"text" binding:"required"`
}

// HandleSay 文本驱动 agent 播报，返回 utterance ID 供打断
func (s *AvatarServer) HandleSay(c *gin.Context) {
	sessionID := c.Param("id")

	conn, exists := s.GetConnection(sessionID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var req sayRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing text"})
		return
	}

	utterance, err := conn.Say(c.Request.Context(), req.Text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"utterance": utterance})
}

// HandleInterrupt 打断指定 utterance
func (s *AvatarServer) HandleInterrupt(c *gin.Context) {
	sessionID := c.Param("id")
	utterance := c.Param("utterance")

	conn, exists := s.GetConnection(sessionID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	if err := conn.Interrupt(utterance); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}
