package main

import (
	"collaborative-diagram-editor/internal/access"
	"collaborative-diagram-editor/internal/config"
	"collaborative-diagram-editor/internal/db"
	"collaborative-diagram-editor/internal/diagram"
	"collaborative-diagram-editor/internal/middleware"
	"collaborative-diagram-editor/internal/store"
	"collaborative-diagram-editor/internal/user"
	"collaborative-diagram-editor/internal/worker"
	"collaborative-diagram-editor/redis"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Connect to database
	db.ConnectDb()
	defer db.CloseDb()

	// Migrate database schema
	db.Migrate()

	// Seed database with initial data (for development)
	db.SeedData()

	// Initialize Redis
	redis.InitRedis()

	// Change notification: cross-process over Redis when available
	var notifier store.Notifier
	if redis.RedisClient != nil {
		redisNotifier := store.NewRedisNotifier(redis.RedisClient)
		defer redisNotifier.Close()
		notifier = redisNotifier
	} else {
		notifier = store.NewLocalNotifier()
	}

	cache := redis.NewCache(redis.RedisClient)

	// Background workers for cache writes and change events
	workers := worker.NewWorkerPool(4, 1000)
	defer workers.Shutdown()

	// Initialize repository
	userRepo := user.NewRepository(db.AppDb)
	diagramRepo := diagram.NewRepository(db.AppDb)
	// Initialize service
	userService := user.NewService(userRepo)
	resolver := access.NewResolver(diagramRepo)
	diagramService := diagram.NewService(diagramRepo, resolver, cache, notifier, workers)
	subscriber := diagram.NewSubscriber(diagramRepo, notifier)
	// Initialize handler
	userHandler := user.NewHandler(userService)
	diagramHandler := diagram.NewHandler(diagramService, subscriber)

	authMiddleware := &middleware.Auth{UserService: userService}

	// Initialize Gin router
	router := gin.Default()
	router.Use(middleware.ErrorHandler())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}

	if config.AppConfig.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{config.AppConfig.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))

	// User routes
	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	router.DELETE("/logout", authMiddleware.AuthMiddleWare(), userHandler.Logout)
	router.GET("/profile", authMiddleware.AuthMiddleWare(), userHandler.GetProfile)

	// Diagram routes
	authed := router.Group("/", authMiddleware.AuthMiddleWare())
	authed.POST("/diagrams", diagramHandler.Create)
	authed.GET("/diagrams", diagramHandler.ShowAccessibleDiagrams)
	authed.GET("/diagrams/live", diagramHandler.LiveAccessibleDiagrams)
	authed.GET("/diagrams/:id", diagramHandler.ShowDiagram)
	authed.PUT("/diagrams/:id", diagramHandler.Save)
	authed.PUT("/diagrams/:id/name", diagramHandler.Rename)
	authed.DELETE("/diagrams/:id", diagramHandler.DeleteDiagram)
	authed.GET("/diagrams/:id/role", diagramHandler.ShowEffectiveRole)

	// Node/edge editing
	authed.POST("/diagrams/:id/nodes", diagramHandler.AddNode)
	authed.PUT("/diagrams/:id/nodes/:nodeId", diagramHandler.RenameNode)
	authed.DELETE("/diagrams/:id/nodes/:nodeId", diagramHandler.RemoveNode)
	authed.POST("/diagrams/:id/edges", diagramHandler.AddEdge)
	authed.DELETE("/diagrams/:id/edges/:edgeId", diagramHandler.RemoveEdge)

	// Sharing
	authed.GET("/diagrams/:id/permissions", diagramHandler.ListGrants)
	authed.PUT("/diagrams/:id/permissions", diagramHandler.Share)
	authed.DELETE("/diagrams/:id/permissions/:email", diagramHandler.Revoke)

	// Server configuration
	serverPort := config.AppConfig.ServerPort
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Printf("Server listening on port %s", serverPort)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Println("Server shutdown error:", err)
	}

	<-ctx.Done()
	log.Println("Server shutdown complete")
}
