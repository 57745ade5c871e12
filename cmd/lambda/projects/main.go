package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/splax/buildor/internal/app/bootstrap"
	"github.com/splax/buildor/internal/handler"
	"github.com/splax/buildor/pkg/config"
	"github.com/splax/buildor/pkg/logger"
)

func main() {
	ctx := context.Background()
	cfg, err := config.LoadLambdaConfig(ctx)
	log := logger.New("projects", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	services, err := bootstrap.LambdaServices(ctx, cfg, log)
	if err != nil {
		log.Error("failed to wire services", "error", err)
		os.Exit(1)
	}
	defer services.Close()

	apiHandler := handler.NewAPI(services.Projects, services.Deploy, log, cfg.HandlerTimeout)
	lambda.Start(apiHandler.Projects)
}
