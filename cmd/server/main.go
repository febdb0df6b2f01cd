package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/handpose-api/internal/classifier"
	"github.com/Brownie44l1/handpose-api/internal/config"
	"github.com/Brownie44l1/handpose-api/internal/handlers"
	"github.com/Brownie44l1/handpose-api/internal/logger"
	"github.com/Brownie44l1/handpose-api/internal/metrics"
	"github.com/Brownie44l1/handpose-api/internal/model"
	"github.com/Brownie44l1/handpose-api/internal/sampler"
)

// projectPath resolves p against the project root. When started from
// cmd/server the root is two levels up.
func projectPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get working directory")
	}
	if filepath.Base(wd) == "server" {
		wd = filepath.Join(wd, "../..")
	}
	return filepath.Join(wd, p)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := logger.Init(cfg.AppName, cfg.AppLogLevel); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	metrics.Init(net.JoinHostPort(cfg.TelegrafHost, cfg.TelegrafPort), cfg.AppEnv, cfg.AppName, cfg.MetricsSamplingRate)

	modelPath := projectPath(cfg.ModelPath)
	metadataPath := projectPath(cfg.ModelMetadataPath)

	md, err := model.LoadMetadata(metadataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", metadataPath).Msg("Failed to load model metadata")
	}

	log.Info().Str("path", modelPath).Msg("Loading model")
	engine, err := model.NewOnnxEngine(modelPath, cfg.OnnxSharedLibraryPath, md)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize model engine")
	}
	defer engine.Close()

	clsCfg := classifier.ConfigFromMetadata(md)
	clsCfg.Order = cfg.Order()
	clsCfg.Timeout = cfg.ClassifyTimeout()
	cls, err := classifier.New(engine, clsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create classifier")
	}

	frames := sampler.New(cls, cfg.SamplerInterval())
	handler := handlers.NewHandler(cls, frames, cfg.UploadMaxBytes)

	if cfg.AppEnv != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handlers.NewRouter(handler),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Strs("classes", md.Classes).
			Str("channelOrder", clsCfg.Order.String()).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}
