package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/otp-gateway/internal/application/otp"
	"github.com/otp-gateway/internal/config"
	"github.com/otp-gateway/internal/domain"
	"github.com/otp-gateway/internal/infrastructure/dynamo"
	jwtinfra "github.com/otp-gateway/internal/infrastructure/jwt"
	"github.com/otp-gateway/internal/infrastructure/mail"
	"github.com/otp-gateway/internal/infrastructure/memstore"
	snsinfra "github.com/otp-gateway/internal/infrastructure/sns"
	"github.com/otp-gateway/internal/infrastructure/whatsapp"
	transporthttp "github.com/otp-gateway/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap the DynamoDB table (creates it if it doesn't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.VerificationsTable)

	// Durable store with in-process degraded-mode standby.
	verificationRepo := dynamo.NewVerificationRepo(dynamoClient, cfg.VerificationsTable)
	store := otp.NewFallbackStore(verificationRepo, memstore.New())

	// Delivery adapters. A channel without a working adapter is simply
	// skipped by the fallback loop.
	senders := map[domain.Channel]otp.Sender{
		domain.ChannelEmail:    mail.NewSender(cfg),
		domain.ChannelWhatsApp: whatsapp.NewSender(cfg),
	}
	if smsSender, err := snsinfra.NewSender(cfg); err == nil {
		senders[domain.ChannelSMS] = smsSender
	} else {
		log.Printf("WARN: SNS sender not available: %v", err)
	}

	// JWT provider (optional — graceful fallback if keys are missing).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	deps := &transporthttp.Deps{
		Store:       store,
		Senders:     senders,
		JWTProvider: jwtProvider,
	}

	router := transporthttp.NewRouter(cfg, deps)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go otp.NewSweeper(store, cfg.OTP.SweepInterval).Run(sweepCtx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
