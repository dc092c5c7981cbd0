package main

import (
	"fmt"
	"log"
	"os"

	"avatarlink/internal/config"
	"avatarlink/pkg/logger"
	"avatarlink/pkg/server"

	"github.com/gin-gonic/gin"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	config, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(&config.Log)

	r := gin.Default()

	server := server.NewAvatarServer()
	if err := server.Init(config); err != nil {
		logger.Fatal("Failed to initialize avatar server: %v", err)
	}

	// 会话管理端点
	r.POST("/sessions", server.HandleOffer)
	r.DELETE("/sessions/:id", server.HandleDelete)
	r.GET("/sessions/:id/stats", server.HandleStats)
	r.POST("/sessions/:id/say", server.HandleSay)
	r.POST("/sessions/:id/interrupt/:utterance", server.HandleInterrupt)

	logger.Info("Starting avatarlink server on :%d", config.Server.HTTPPort)
	if err := r.Run(fmt.Sprintf(":%d", config.Server.HTTPPort)); err != nil {
		panic(err)
	}
}
