package main

import (
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/splax/buildor/internal/handler"
	"github.com/splax/buildor/internal/service/deploy"
	"github.com/splax/buildor/internal/service/project"
	"github.com/splax/buildor/pkg/config"
	"github.com/splax/buildor/pkg/logger"
)

// The root resource touches no store or trigger, so no services are wired.
func main() {
	log := logger.New("root", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))
	apiHandler := handler.NewAPI(project.Service{}, deploy.Service{}, log, config.GetSeconds("HANDLER_TIMEOUT_SECONDS", 5))
	lambda.Start(apiHandler.Root)
}
