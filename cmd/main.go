package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"sms-agent/handler"
	"sms-agent/internal/config"
	"sms-agent/internal/integrations/openai"
	"sms-agent/internal/integrations/paramstore"
	"sms-agent/internal/repository"
	"sms-agent/internal/security"
	"sms-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	_ = godotenv.Load()
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		slog.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}
	llmClient, err := openai.NewClient(ssmClient, cfg.ParamPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Admission pipeline ----
	// The shared secret is resolved at startup: running without it would
	// mean an undefined security posture, so a missing secret is fatal.
	authToken := ""
	if cfg.WebhookValidationEnabled {
		authToken, err = ssmClient.GetParameter(ctx, cfg.ParamPrefix+"/twilio-auth-token")
		if err != nil {
			slog.Error("failed to load webhook auth token", "err", err)
			os.Exit(1)
		}
	}
	verifier, err := security.NewSignatureVerifier(authToken, cfg.WebhookValidationEnabled)
	if err != nil {
		slog.Error("failed to create signature verifier", "err", err)
		os.Exit(1)
	}
	limiter := security.NewRateLimiter(cfg.RatePerMinute, cfg.RatePerHour)
	sanitizer := security.NewSanitizer(cfg.MaxMessageLength, cfg.TruncationSuffix)
	pipeline, err := security.NewPipeline(verifier, limiter, sanitizer)
	if err != nil {
		slog.Error("failed to create admission pipeline", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(ssmClient, llmClient, store, limiter, usecase.Settings{
		ParamPrefix:  cfg.ParamPrefix,
		AgentName:    cfg.AgentName,
		MaxTurns:     cfg.MaxConversationLength,
		Expiration:   cfg.ConversationTimeout,
		AgentTimeout: cfg.AgentTimeout,
	})
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(pipeline, chatService, cfg.MaxSMSLength, cfg.TruncationSuffix, cfg.PublicURL)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
