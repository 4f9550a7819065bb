//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/ecoloop/internal/bootstrap"
	"github.com/yanqian/ecoloop/internal/domain/account"
	"github.com/yanqian/ecoloop/internal/domain/pipeline"
	"github.com/yanqian/ecoloop/internal/infra/config"
	"github.com/yanqian/ecoloop/internal/infra/llm/gemini"
	httpiface "github.com/yanqian/ecoloop/internal/interface/http"
	"github.com/yanqian/ecoloop/pkg/logger"
)

func initializeApp() (*bootstrap.App, func(), error) {
	wire.Build(
		config.Load,
		logger.New,
		providePipelineConfig,
		provideGeminiClient,
		provideResultCache,
		provideAccountConfig,
		provideAccountRepository,
		pipeline.NewService,
		account.NewService,
		wire.Bind(new(pipeline.ModelClient), new(*gemini.Client)),
		httpiface.NewHandler,
		httpiface.NewAccountHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil, nil
}
