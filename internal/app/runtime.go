// Package app wires the whole service together and supervises its
// long-running parts.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dwizi/courier/internal/config"
	"github.com/dwizi/courier/internal/debounce"
	"github.com/dwizi/courier/internal/delivery"
	"github.com/dwizi/courier/internal/i18n"
	"github.com/dwizi/courier/internal/llm"
	"github.com/dwizi/courier/internal/llm/groq"
	"github.com/dwizi/courier/internal/llm/pool"
	"github.com/dwizi/courier/internal/pipeline"
	"github.com/dwizi/courier/internal/quota"
	"github.com/dwizi/courier/internal/store"
	"github.com/dwizi/courier/internal/telegram"
	"github.com/dwizi/courier/internal/websearch"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	translator *i18n.Translator
	cache      *debounce.Cache
	connector  *telegram.Connector
}

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.AutoMigrate(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	translator, err := i18n.NewTranslator(cfg.LocalesDir, logger.With("component", "i18n"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load locales: %w", err)
	}

	catalog, err := llm.LoadCatalog(cfg.ModelsPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load model catalog: %w", err)
	}

	client := groq.New(groq.Config{
		BaseURL:       cfg.LLMBaseURL,
		Temperature:   cfg.LLMTemperature,
		MaxTokens:     cfg.LLMMaxTokens,
		ClassifyModel: cfg.LLMClassifyModel,
		Timeout:       time.Duration(cfg.LLMTimeoutSec) * time.Second,
	}, logger.With("component", "llm"))

	chatKeys := pool.NewKeyRing(config.SplitCSV(cfg.LLMChatKeysCSV))
	visionKeys := pool.NewKeyRing(config.SplitCSV(cfg.LLMVisionKeysCSV))

	var webAnswerer pool.WebAnswerer
	searchKeys := pool.NewKeyRing(config.SplitCSV(cfg.SearchKeysCSV))
	if cfg.SearchEndpoint != "" && searchKeys.Size() > 0 {
		searcher := websearch.NewSearchClient(
			cfg.SearchEndpoint,
			searchKeys,
			cfg.SearchMaxResults,
			time.Duration(cfg.SearchTimeoutSec)*time.Second,
			logger.With("component", "websearch"),
		)
		fetcher := websearch.NewFetcher(
			time.Duration(cfg.FetchTimeoutSec)*time.Second,
			logger.With("component", "websearch"),
		)
		webAnswerer = websearch.NewService(searcher, fetcher, chatKeys, client, translator, logger.With("component", "websearch"))
	} else {
		logger.Info("web lookup disabled, search endpoint or keys missing")
	}

	completionPool := pool.New(chatKeys, visionKeys, client, webAnswerer, translator, logger.With("component", "pool"))
	gate := quota.New(st, cfg.DailyChatLimit, logger.With("component", "quota"))
	engine := delivery.New(delivery.DefaultChunkLimit, time.Duration(cfg.ChunkPaceMillis)*time.Millisecond, logger.With("component", "delivery"))
	debouncer := debounce.NewDebouncer(time.Duration(cfg.DebounceSeconds) * time.Second)
	cache := debounce.NewCache(cfg.CacheMaxEntries, time.Duration(cfg.CacheTTLSeconds)*time.Second)

	coordinator := pipeline.New(
		st, gate, completionPool, translator, engine, debouncer, cache,
		catalog, cfg.LLMDefaultModel, cfg.HistoryLimit,
		logger.With("component", "pipeline"),
	)

	connector := telegram.New(
		cfg.TelegramToken, cfg.TelegramAPI, cfg.TelegramPoll,
		coordinator, translator,
		logger.With("component", "telegram"),
	)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		translator: translator,
		cache:      cache,
		connector:  connector,
	}, nil
}

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("courier runtime starting", "env", r.cfg.Environment, "db_path", r.cfg.DBPath)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return r.connector.Start(groupCtx)
	})
	group.Go(func() error {
		return r.translator.Watch(groupCtx)
	})
	group.Go(func() error {
		return r.runCacheSweep(groupCtx)
	})

	return group.Wait()
}

func (r *Runtime) runCacheSweep(ctx context.Context) error {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(r.cfg.CacheSweepSchedule, func() {
		if removed := r.cache.Sweep(); removed > 0 {
			r.logger.Info("cache sweep", "removed", removed)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache sweep: %w", err)
	}
	scheduler.Start()
	<-ctx.Done()
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	return nil
}

func (r *Runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Error("store close failed", "error", err)
	}
}
