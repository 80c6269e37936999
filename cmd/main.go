// Copyright (c) 2024, 0x0BSoD. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/0x0BSoD/newsMonkey/internal/config"
	"github.com/0x0BSoD/newsMonkey/internal/feed"
	"github.com/0x0BSoD/newsMonkey/internal/newsapi"
	"github.com/0x0BSoD/newsMonkey/internal/reader"
	"github.com/0x0BSoD/newsMonkey/internal/render"
	"github.com/0x0BSoD/newsMonkey/internal/reporter"
	"github.com/0x0BSoD/newsMonkey/internal/shell"
	"github.com/0x0BSoD/newsMonkey/internal/summary"
)

func main() {
	cfg := config.Get()
	if cfg.NewsAPIKey == "" {
		log.Printf("[ERROR] news_api_key is required")
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var sender reporter.Sender
	if cfg.TelegramBotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Printf("[ERROR] failed to create botAPI: %v", err)
			return
		}
		sender = botAPI
	}

	summarizer, err := summary.New(summary.Options{
		Kind:    cfg.AIType,
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIKey,
		Prompt:  cfg.AIPrompt,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	})
	if err != nil {
		log.Printf("[ERROR] failed to configure summarizer: %v", err)
		return
	}

	if summarizer != nil {
		log.Printf("[INFO] using %s summarizer (model: %s)", cfg.AIType, cfg.AIModel)
	}

	renderer, err := render.New()
	if err != nil {
		log.Printf("[ERROR] failed to load templates: %v", err)
		return
	}

	server := shell.New(
		shell.Options{
			Addr:    cfg.ListenAddr,
			AppName: cfg.AppName,
			Feed: feed.Options{
				Country:  cfg.Country,
				APIKey:   cfg.NewsAPIKey,
				PageSize: cfg.PageSize,
			},
			ClientRPS:           cfg.ClientRPS,
			ClientBurst:         cfg.ClientBurst,
			TrustProxy:          cfg.TrustProxy,
			SessionTTL:          cfg.SessionTTL,
			ProgressFinishDelay: cfg.ProgressFinishDelay,
		},
		newsapi.New(cfg.NewsAPIURL, cfg.HTTPTimeout, cfg.UpstreamRPS),
		reporter.New(sender, cfg.TelegramAdminChatID, logger),
		reader.New(cfg.HTTPTimeout, summarizer),
		renderer,
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := server.Run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("[ERROR] failed to run http server: %v", err)
			return
		}

		log.Printf("[INFO] http server stopped")
	}
}
