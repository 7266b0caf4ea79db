package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/pflag"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/config"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/email"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/log"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML configuration file")
	pflag.Parse()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.InitStructureLogConfig(log.Options{Level: cfg.Log.Level, AddSource: &cfg.Log.AddSource})

	p := NewProcessor(email.NewHTTPClient(email.HTTPConfig{
		BaseURL:    cfg.Email.BaseURL,
		Sender:     cfg.Email.Sender,
		AuthToken:  cfg.Email.AuthToken,
		Timeout:    cfg.Email.Timeout,
		MaxRetries: 3,
	}))

	// If RUN_LOCAL=true, deliver a single simulated message for local testing.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			slog.Error("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
			os.Exit(1)
		}
		resp, _ := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if len(resp.BatchItemFailures) > 0 {
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
