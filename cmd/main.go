package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"interview-media-relay/internal/app"
	"interview-media-relay/internal/config"
	"interview-media-relay/internal/directory"
	"interview-media-relay/internal/events"
	relayhttp "interview-media-relay/internal/http"
	"interview-media-relay/internal/models"
	"interview-media-relay/internal/observability"
	"interview-media-relay/internal/service/segmentation"
	"interview-media-relay/internal/service/talktime"
	"interview-media-relay/internal/transport"
)

func main() {
	cfg := config.Load()

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		application.Logger.Fatal().Err(err).Msg("Application startup failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Kafka mirror with separate topics for utterance boundaries and alerts
	publisher := events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicUtterances: cfg.Kafka.TopicUtterances,
		TopicAlerts:     cfg.Kafka.TopicAlerts,
		Principal:       cfg.Kafka.Principal,
	})
	defer publisher.Close()

	// Roster-backed directory: identities arrive via participant events,
	// so no remote resolver is wired here.
	dir := directory.New(nil, cfg.Session.CandidateEmail)

	var session *transport.Session
	session = transport.NewSession(transport.Config{
		URL:          cfg.Collector.URL,
		Secret:       cfg.Collector.Secret,
		CompanyID:    cfg.Session.CompanyID,
		DialTimeout:  cfg.Collector.DialTimeout,
		PingInterval: cfg.Collector.PingInterval,
		MaxRetries:   cfg.Collector.MaxRetries,
	}, func(err error) {
		if err != nil {
			log.Warn().Err(err).Msg("Collector session lost, reconnecting")
		} else {
			log.Info().Msg("Collector closed the session, reconnecting")
		}
		go func() {
			if ctx.Err() != nil {
				return
			}
			if rerr := session.ConnectWithRetry(ctx); rerr != nil {
				log.Error().Err(rerr).Msg("Collector reconnect failed")
			}
		}()
	})

	var questions models.QuestionSet
	if cfg.Session.QuestionsJSON != "" {
		if err := json.Unmarshal([]byte(cfg.Session.QuestionsJSON), &questions); err != nil {
			log.Warn().Err(err).Msg("Ignoring malformed interview question set")
		}
	}

	meetingStart := time.Now().UnixMilli()
	if err := session.ConnectWithRetry(ctx); err != nil {
		log.Error().Err(err).Msg("Initial collector connect failed, continuing degraded")
	} else {
		session.SendLifecycleEvent("meeting_started", meetingStart, nil)
		session.SendMeetingDetails(models.InterviewDetails{
			MeetingID:      cfg.Session.MeetingID,
			StartTime:      models.FormatMs(meetingStart),
			CandidateEmail: cfg.Session.CandidateEmail,
			Questions:      questions,
		})
	}

	monitor := talktime.New(talktime.Config{
		WindowMinutes:    cfg.TalkTime.WindowMinutes,
		AlertThresholdMs: cfg.TalkTime.AlertThresholdMs,
	}, session, publisher)

	engine := segmentation.New(segmentation.Config{
		SilenceThreshold: cfg.Segmentation.SilenceThreshold,
		TickInterval:     cfg.Segmentation.TickInterval,
		Limits: segmentation.Limits{
			MaxBufferBytes:    cfg.Segmentation.MaxBufferBytes,
			MaxBufferDuration: cfg.Segmentation.MaxBufferDuration,
		},
	}, dir, session, monitor, publisher)
	engine.Start(ctx)

	obsServer := observability.NewServer(":"+cfg.Observability.MetricsPort, session.Connected)
	obsServer.Start()

	router := relayhttp.NewRouter(application, func() relayhttp.SessionStatus {
		return relayhttp.SessionStatus{
			MeetingID:    cfg.Session.MeetingID,
			Connected:    session.Connected(),
			Participants: dir.Size(),
		}
	})
	httpServer := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen on gRPC port")
	}

	grpcServer := grpc.NewServer()

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("interview.media.relay", grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("Starting gRPC health server")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("gRPC serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutdown signal received")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Flush remaining audio before tearing down the session so the last
	// utterance is not lost.
	engine.Close()

	meetingEnd := time.Now().UnixMilli()
	session.SendLifecycleEvent("meeting_ended", meetingStart, &meetingEnd)
	cancel()
	if err := session.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Collector session shutdown error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = obsServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()

	application.Shutdown()
}
