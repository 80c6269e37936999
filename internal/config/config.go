package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
	"github.com/joho/godotenv"
)

type Config struct {
	NewsAPIKey          string        `hcl:"news_api_key" env:"NEWS_API_KEY" required:"true"`
	NewsAPIURL          string        `hcl:"news_api_url" env:"NEWS_API_URL" default:"https://newsapi.org/v2"`
	Country             string        `hcl:"country" env:"COUNTRY" default:"us"`
	PageSize            int           `hcl:"page_size" env:"PAGE_SIZE" default:"5"`
	ListenAddr          string        `hcl:"listen_addr" env:"LISTEN_ADDR" default:"127.0.0.1:8088"`
	AppName             string        `hcl:"app_name" env:"APP_NAME" default:"NewsMonkey"`
	HTTPTimeout         time.Duration `hcl:"http_timeout" env:"HTTP_TIMEOUT" default:"30s"`
	UpstreamRPS         float64       `hcl:"upstream_rps" env:"UPSTREAM_RPS" default:"1"`
	ClientRPS           float64       `hcl:"client_rps" env:"CLIENT_RPS" default:"5"`
	ClientBurst         int           `hcl:"client_burst" env:"CLIENT_BURST" default:"10"`
	TrustProxy          bool          `hcl:"trust_proxy" env:"TRUST_PROXY" default:"false"`
	SessionTTL          time.Duration `hcl:"session_ttl" env:"SESSION_TTL" default:"30m"`
	ProgressFinishDelay time.Duration `hcl:"progress_finish_delay" env:"PROGRESS_FINISH_DELAY" default:"400ms"`
	TelegramBotToken    string        `hcl:"telegram_bot_token" env:"TELEGRAM_BOT_TOKEN"`
	TelegramAdminChatID int64         `hcl:"telegram_admin_chat_id" env:"TELEGRAM_ADMIN_CHAT_ID"`
	AIType              string        `hcl:"ai_type" env:"AI_TYPE" default:"none"`
	AIBaseURL           string        `hcl:"ai_base_url" env:"AI_BASE_URL"`
	AIKey               string        `hcl:"ai_key" env:"AI_KEY"`
	AIPrompt            string        `hcl:"ai_prompt" env:"AI_PROMPT"`
	AIModel             string        `hcl:"ai_model" env:"AI_MODEL" default:"llama3"`
	AITimeout           time.Duration `hcl:"ai_timeout" env:"AI_TIMEOUT" default:"2m"`
}

const EnvPrefix = "NMK"

var DefaultFiles = []string{"./config.hcl", "./config.local.hcl", "$HOME/.config/news-monkey/config.hcl"}

var (
	cfg  Config
	once sync.Once
)

// Get loads the configuration once: variables from ./.env first, then the HCL files, then
// the NMK_* environment.
func Get() Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Error("failed to load .env", "err", err)
		}

		loaded, err := Load(DefaultFiles...)
		if err != nil {
			slog.Error("failed to load config", "err", err)
		}
		cfg = loaded
	})

	return cfg
}

func Load(files ...string) (Config, error) {
	var c Config
	loader := aconfig.LoaderFor(&c, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: EnvPrefix,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})

	if err := loader.Load(); err != nil {
		return c, err
	}
	return c, nil
}
