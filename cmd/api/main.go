package main

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ccmart/ccmart-go/internal/cache"
	"github.com/ccmart/ccmart-go/internal/config"
	"github.com/ccmart/ccmart-go/internal/database"
	"github.com/ccmart/ccmart-go/internal/handlers"
	"github.com/ccmart/ccmart-go/internal/messaging"
	"github.com/ccmart/ccmart-go/internal/notify"
	"github.com/ccmart/ccmart-go/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("Connected to database")

	notificationStore := store.NewNotificationStore(db)
	sinks := []notify.Sink{notificationStore}

	if cfg.RabbitMQ.URL != "" {
		mq, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URL)
		if err != nil {
			log.Fatalf("Connect to RabbitMQ: %v", err)
		}
		defer mq.Close()

		publisher, err := messaging.NewNotificationPublisher(mq, cfg.RabbitMQ.Queue)
		if err != nil {
			log.Fatalf("Set up notification publisher: %v", err)
		}
		sinks = append(sinks, publisher)
		log.Printf("Publishing notifications to queue %s", cfg.RabbitMQ.Queue)
	}

	var productCache *cache.Cache
	if cfg.Redis.Addr != "" {
		productCache, err = cache.New(cfg.Redis.Addr, cfg.Redis.TTL)
		if err != nil {
			log.Fatalf("Connect to Redis: %v", err)
		}
		defer productCache.Close()
		log.Printf("Product cache enabled (%s)", cfg.Redis.Addr)
	}

	catalog := store.NewCatalog(db, productCache)
	dispatcher := notify.NewDispatcher(sinks...)
	orders := store.NewOrderService(db, dispatcher, catalog)

	orderHandler := handlers.NewOrderHandler(orders)
	productHandler := handlers.NewProductHandler(catalog)
	notificationHandler := handlers.NewNotificationHandler(notificationStore)
	agentHandler := handlers.NewAgentHandler(db)

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.POST("/orders", orderHandler.Create)
	router.GET("/orders", orderHandler.ListByUser)
	router.GET("/orders/:id", orderHandler.Get)
	router.PUT("/orders/:id/cancel", orderHandler.Cancel)
	router.PUT("/orders/:id/status", orderHandler.Transition)
	router.PUT("/orders/:id/force-status", orderHandler.Override)
	router.GET("/orders/status/:status", orderHandler.ListByStatus)

	router.POST("/products", productHandler.Create)
	router.GET("/products", productHandler.List)
	router.GET("/products/:id", productHandler.Get)

	router.GET("/notifications", notificationHandler.List)
	router.GET("/notifications/unread-count", notificationHandler.UnreadCount)
	router.PUT("/notifications/mark-read", notificationHandler.MarkRead)
	router.DELETE("/notifications/:id", notificationHandler.Delete)

	router.POST("/delivery-agents", agentHandler.Create)
	router.GET("/delivery-agents", agentHandler.List)
	router.GET("/delivery-agents/:id", agentHandler.Get)
	router.PUT("/delivery-agents/:id/availability", agentHandler.SetAvailability)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
