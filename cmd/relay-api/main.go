// Command relay-api runs the telephony crisis-line relay server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/shelterline/relay/cmd/relayconfig"
	"github.com/shelterline/relay/internal/audiostore"
	"github.com/shelterline/relay/internal/audit"
	"github.com/shelterline/relay/internal/cache"
	"github.com/shelterline/relay/internal/classifier"
	"github.com/shelterline/relay/internal/config"
	"github.com/shelterline/relay/internal/dialog"
	"github.com/shelterline/relay/internal/followup"
	"github.com/shelterline/relay/internal/retrieval"
	"github.com/shelterline/relay/internal/rewriter"
	"github.com/shelterline/relay/internal/router"
	"github.com/shelterline/relay/internal/session"
	"github.com/shelterline/relay/internal/smsjob"
	"github.com/shelterline/relay/internal/stats"
	"github.com/shelterline/relay/internal/summary"
	"github.com/shelterline/relay/internal/upstream"
	"github.com/shelterline/relay/internal/webhook"
	"github.com/shelterline/relay/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting relay server", "env", cfg.Env, "port", cfg.Port)

	if issues := cfg.Validate(); len(issues) > 0 {
		for _, issue := range issues {
			logger.Error("configuration error", "issue", issue)
		}
		os.Exit(1)
	}

	appCtx, stop := context.WithCancel(context.Background())
	defer stop()

	st := stats.New(nil)
	chat := buildChat(appCtx, cfg, logger)
	geocode := buildGeocode(cfg, st)
	search := buildSearch(cfg)
	stt := buildSTT(cfg, chat)
	tts := buildTTS(cfg)

	classifierEngine := classifier.New(cache.New[classifier.Result](cfg.ClassifierCacheTTL, cfg.ClassifierCacheMax), chat, chatModel(cfg), st)
	rewriterEngine := rewriter.New(geocode)
	retrievalPipeline := retrieval.New(search, cache.New[retrieval.PresentableAnswer](cfg.RetrievalCacheTTL, cfg.RetrievalCacheMax), cfg.SearchMaxResults, cfg.SearchExcludeDoms, st)
	followupEngine := followup.New(chat)
	resp := router.New(classifierEngine, rewriterEngine, retrievalPipeline, followupEngine, chat, chatModel(cfg), cache.New[router.Answer](cfg.ResponseCacheTTL, cfg.ResponseCacheMax), st)

	dbPool := connectPostgres(appCtx, cfg.DatabaseURL, logger)
	if dbPool != nil {
		defer dbPool.Close()
	}
	var auditRecorder dialog.AuditRecorder
	if dbPool != nil {
		auditRecorder = audit.New(dbPool, 5*time.Second, logger)
	}

	smsDispatcher := buildSMSDispatcher(appCtx, cfg, logger)

	var summaryGen dialog.SummaryGenerator
	if chat != nil {
		summaryGen = summary.New(chat, chatModel(cfg))
	}

	engine := dialog.New(resp, summaryGen, smsDispatcher, auditRecorder, dialog.Config{
		SoftBudget:   cfg.ReplySoftBudget,
		HardBudget:   cfg.ReplyHardBudget,
		MaxReprompts: cfg.MaxReprompts,
		Logger:       logger,
	})

	registry := session.NewRegistry(cfg.SessionHistoryN)
	defer registry.Close()

	audioStoreImpl := buildAudioStore(appCtx, cfg, logger)
	limiter := buildRateLimiter(cfg)

	dispatcher := webhook.NewDispatcher(webhook.DispatcherConfig{
		Registry:        registry,
		Dialog:          engine,
		STT:             stt,
		TTS:             tts,
		AudioStore:      audioStoreImpl,
		Limiter:         limiter,
		RateLimitWindow: cfg.RateLimitWindow,
		SigningSecret:   cfg.WebhookSigningSecret,
		Stats:           st,
		Logger:          logger,
		MediaSampleRate: cfg.MediaSampleRate,
		MediaLanguage:   cfg.MediaLanguage,
		MediaVoice:      cfg.MediaVoice,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      dispatcher.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stop()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func chatModel(cfg *config.Config) string {
	if cfg.LLMProvider == "gemini" {
		return cfg.GeminiModelID
	}
	return cfg.BedrockModel
}

func buildChat(ctx context.Context, cfg *config.Config, logger *logging.Logger) upstream.Chat {
	switch cfg.LLMProvider {
	case "gemini":
		client, err := upstream.NewGeminiChatClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to configure gemini chat client", "error", err)
			os.Exit(1)
		}
		return client
	default:
		awsCfg, err := relayconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config for bedrock", "error", err)
			os.Exit(1)
		}
		return upstream.NewBedrockChatClient(bedrockruntime.NewFromConfig(awsCfg), 25*time.Second)
	}
}

// buildSTT prefers a dedicated STT vendor (STT_BASE_URL) and falls back
// to the gemini client's own audio transcription when gemini is the
// selected chat provider, since GeminiChatClient implements both Chat
// and STT. Otherwise the media-stream endpoint runs without STT.
func buildSTT(cfg *config.Config, chat upstream.Chat) upstream.STT {
	if cfg.STTBaseURL != "" {
		return upstream.NewHTTPSTTClient(cfg.STTBaseURL, cfg.STTAPIKey, 10*time.Second)
	}
	if stt, ok := chat.(upstream.STT); ok {
		return stt
	}
	return nil
}

func buildTTS(cfg *config.Config) upstream.TTS {
	if cfg.TTSBaseURL == "" {
		return nil
	}
	return upstream.NewHTTPTTSClient(cfg.TTSBaseURL, cfg.TTSAPIKey, 10*time.Second)
}

func buildSearch(cfg *config.Config) upstream.Search {
	return upstream.NewHTTPSearchClient(cfg.SearchBaseURL, cfg.SearchAPIKey, cfg.SearchTimeout)
}

func buildGeocode(cfg *config.Config, st *stats.Stats) upstream.Geocode {
	inner := upstream.NewHTTPGeocodeClient(cfg.GeocodeBaseURL, cfg.GeocodeAPIKey, 3*time.Second)
	return upstream.NewCachedGeocode(inner, cache.New[upstream.GeocodeResult](cfg.GeocodeCacheTTL, cfg.GeocodeCacheMax), st)
}

func connectPostgres(ctx context.Context, dbURL string, logger *logging.Logger) *pgxpool.Pool {
	if dbURL == "" {
		logger.Warn("DATABASE_URL not set; call audit log disabled")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to postgres")
	return pool
}

func buildSMSDispatcher(ctx context.Context, cfg *config.Config, logger *logging.Logger) dialog.SMSDispatcher {
	var jobs *smsjob.JobStore
	if !cfg.UseMemoryQueue {
		awsCfg, err := relayconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config for sms job queue", "error", err)
			os.Exit(1)
		}
		jobs = smsjob.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.SMSJobTable, logger)
		queue := smsjob.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SMSJobQueueURL)
		return smsjob.NewDispatcher(queue, jobs, logger)
	}
	logger.Info("USE_MEMORY_QUEUE enabled; sms jobs are not durable across restarts")
	return smsjob.NewDispatcher(smsjob.NewMemoryQueue(1024), nil, logger)
}

func buildAudioStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) *audiostore.Store {
	if cfg.AudioClipBucket == "" {
		logger.Warn("AUDIO_CLIP_BUCKET not set; media worker falls back to inline <Say>")
		return audiostore.New(nil, nil, "", logger)
	}
	awsCfg, err := relayconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config for audio store", "error", err)
		os.Exit(1)
	}
	return audiostore.NewFromS3Client(s3.NewFromConfig(awsCfg), cfg.AudioClipBucket, logger)
}

func buildRateLimiter(cfg *config.Config) webhook.RateLimiter {
	if cfg.RedisAddr == "" {
		return webhook.NewRateLimiter(nil, cfg.RateLimitWindow, cfg.RateLimitMax)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	return webhook.NewRateLimiter(client, cfg.RateLimitWindow, cfg.RateLimitMax)
}
