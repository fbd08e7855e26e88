package main

import (
	"log/slog"
	"os"

	"github.com/rahvis/VideoForge/internal/api"
	"github.com/rahvis/VideoForge/internal/auth"
	"github.com/rahvis/VideoForge/internal/cache"
	"github.com/rahvis/VideoForge/internal/config"
	"github.com/rahvis/VideoForge/internal/events"
	"github.com/rahvis/VideoForge/internal/lock"
	"github.com/rahvis/VideoForge/internal/media"
	"github.com/rahvis/VideoForge/internal/pipeline"
	"github.com/rahvis/VideoForge/internal/provider"
	"github.com/rahvis/VideoForge/internal/storage"
	"github.com/rahvis/VideoForge/internal/store"
	"github.com/rahvis/VideoForge/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("store open failed", "db_path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	layout := storage.NewLayout(cfg.UploadDir, cfg.BaseURL)
	segCache, err := cache.New(layout.CacheDir(), cfg.CacheTTL, cfg.CacheHashLength, logger)
	if err != nil {
		logger.Error("cache init failed", "error", err)
		os.Exit(1)
	}

	voices, err := config.LoadVoices(cfg.VoicesFile)
	if err != nil {
		logger.Error("voice catalog load failed", "path", cfg.VoicesFile, "error", err)
		os.Exit(1)
	}

	authSvc := auth.NewService(st, cfg.JWTSecret, cfg.AccessTTL)
	if err := authSvc.SeedUser(cfg.DemoUserEmail, cfg.DemoUserPassword); err != nil {
		logger.Error("seed demo user failed", "error", err)
		os.Exit(1)
	}

	tool := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, logger)
	syncVerifier := media.NewSyncVerifier(tool, logger)
	lockMgr := lock.NewManager(st, cfg.LockTimeout, logger)
	hub := events.NewHub()

	// Unconfigured providers fall back to mocks, same as running
	// without credentials in development.
	var storyboard provider.Storyboard = provider.MockStoryboard{}
	if cfg.StoryboardAPIKey != "" {
		storyboard = provider.NewStoryboardClient(cfg.StoryboardAPIURL, cfg.StoryboardAPIKey, cfg.StoryboardModel, logger)
	}
	var videoProv provider.VideoSegments = provider.NewMockVideoSegments()
	if cfg.VideoAPIKey != "" && cfg.VideoAPIURL != "" {
		videoProv = provider.NewVideoSegmentClient(cfg.VideoAPIURL, cfg.VideoAPIKey, cfg.VideoAPIDeployment, logger)
	}
	var narration provider.Narration = provider.NewMockNarration()
	if cfg.TTSAPIKey != "" {
		narration = provider.NewNarrationClient(cfg.TTSAPIURL, cfg.TTSAPIKey, logger)
	}

	voiceName := ""
	if voice, ok := voices.Find(cfg.TTSVoiceID); ok {
		voiceName = voice.Name
	}
	orch := pipeline.New(st, lockMgr, layout, segCache, tool, syncVerifier,
		storyboard, videoProv, narration, hub, logger,
		pipeline.Options{
			SegmentDuration:   cfg.SegmentDuration,
			MaxSegmentRetries: cfg.MaxSegmentRetries,
			PollingInterval:   cfg.PollingInterval,
			SegmentTimeout:    cfg.SegmentTimeout,
			VideoTimeout:      cfg.VideoTimeout,
			ParallelSegments:  cfg.ParallelSegments,
			MaxConcurrentJobs: cfg.MaxConcurrentJobs,
			VoiceID:           cfg.TTSVoiceID,
			VoiceName:         voiceName,
			TTSModel:          cfg.TTSModel,
		})

	stop := make(chan struct{})
	defer close(stop)
	orch.StartWorker(stop)
	orch.RecoverOnStart()
	orch.StartStaleSweeper(0, stop)
	lockMgr.StartSweeper(0, stop)
	segCache.Cleanup(false)

	srv := api.NewServer(authSvc, st, orch, lockMgr, layout, segCache, storyboard, hub, voices, cfg, logger)
	router := srv.Router()

	logger.Info("server_start",
		"addr", cfg.Addr,
		"upload_dir", cfg.UploadDir,
		"segment_duration", cfg.SegmentDuration,
		"max_segment_retries", cfg.MaxSegmentRetries,
		"parallel_segments", cfg.ParallelSegments,
	)
	if err := router.Run(cfg.Addr); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
