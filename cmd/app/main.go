package main

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Quiet-Fox-Software/linkstash-back/internal/auth"
	"github.com/Quiet-Fox-Software/linkstash-back/internal/config"
	"github.com/Quiet-Fox-Software/linkstash-back/internal/db"
	"github.com/Quiet-Fox-Software/linkstash-back/internal/scrape"
	"github.com/Quiet-Fox-Software/linkstash-back/internal/service"
	"github.com/Quiet-Fox-Software/linkstash-back/internal/transport"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			NewLogger,
			db.NewGormClient,
			auth.NewTokenIssuer,
			fx.Annotate(scrape.NewScraper, fx.As(new(service.MetadataFetcher))),
			service.NewGeneral,
			transport.NewHTTPServer,
		),
		fx.Invoke(func(server *transport.HTTPServer) {}),
	)

	app.Run()
}

func NewLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if cfg.IsDevelopment() {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
