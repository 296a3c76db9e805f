package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tutorbridge/meeting-agent/internal/auth"
	"github.com/tutorbridge/meeting-agent/internal/config"
	"github.com/tutorbridge/meeting-agent/internal/dtos"
	"github.com/tutorbridge/meeting-agent/internal/handlers"
	"github.com/tutorbridge/meeting-agent/internal/models"
	"github.com/tutorbridge/meeting-agent/internal/routes"
	"github.com/tutorbridge/meeting-agent/internal/rtc"
	"github.com/tutorbridge/meeting-agent/internal/session"
	"github.com/tutorbridge/meeting-agent/internal/signaling"
	"github.com/tutorbridge/meeting-agent/internal/ws"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	identity, err := auth.ParseAccessToken(cfg.AccessToken, cfg.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid access token")
	}
	logger.Info().
		Str("userId", identity.UserID).
		Str("role", string(identity.Role)).
		Msg("agent identity resolved")

	devices, err := rtc.NewCaptureDevices()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize capture devices")
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, url := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}
	manager := rtc.NewManager(rtc.Config{ICEServers: iceServers}, devices, logger)

	client := signaling.NewClient(cfg.ServerBaseURL, logger, signaling.WithAuthToken(cfg.AccessToken))
	listener := signaling.NewEventListener(cfg.ServerBaseURL, identity.UserID, cfg.AccessToken, logger)

	opts := session.Options{
		Signaling:      client,
		RTC:            manager,
		Events:         listener,
		Log:            logger,
		SelfID:         identity.UserID,
		Role:           identity.Role,
		PollInterval:   cfg.PollInterval,
		MediaTimeout:   cfg.MediaTimeout,
		OfferTimeout:   cfg.OfferTimeout,
		RingingTimeout: cfg.RingingTimeout,
	}

	var controller session.Controller
	switch identity.Role {
	case models.RoleTutor:
		controller = session.NewCallee(opts)
	default:
		controller = session.NewCaller(opts)
	}

	hub := ws.NewHub(logger)
	controller.SetOnChange(func(state dtos.CallState) { hub.Broadcast(state) })

	listener.SetHandler(controller.HandleMeeting)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener.Start(ctx)
	go controller.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	callHandler := handlers.NewCallHandler(controller)
	wsHandler := handlers.NewWebSocketHandler(hub, controller, logger)
	routes.RegisterEndpoints(router, callHandler, wsHandler, cfg.ControlToken)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("control api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("control api failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	controller.HangUp(shutdownCtx, models.StatusEnded)
	listener.Close()
	hub.CloseAll()
	server.Shutdown(shutdownCtx)
}
