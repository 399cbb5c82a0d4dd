// Command gryagd runs the Telegram long-polling daemon: it wires the
// persistence, memory, context-assembly, and LLM-gateway layers together
// behind the orchestrator's state machine and serves updates until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/thathunky/gryag/internal/botlearning"
	"github.com/thathunky/gryag/internal/commands"
	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/contextassembler"
	"github.com/thathunky/gryag/internal/episode"
	"github.com/thathunky/gryag/internal/ingest"
	"github.com/thathunky/gryag/internal/llm"
	"github.com/thathunky/gryag/internal/llm/google"
	"github.com/thathunky/gryag/internal/logging"
	"github.com/thathunky/gryag/internal/orchestrator"
	"github.com/thathunky/gryag/internal/persistence"
	"github.com/thathunky/gryag/internal/profile"
	"github.com/thathunky/gryag/internal/prompts"
	"github.com/thathunky/gryag/internal/ratelimit"
	"github.com/thathunky/gryag/internal/retrieval"
	"github.com/thathunky/gryag/internal/tools"
)

const (
	gatewayMaxKeyFailures  = 5
	gatewayCircuitCooldown = 30 * time.Second
	updatePollTimeoutSec   = 60
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gryagd")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.Init(cfg.Operational.LogDir, cfg.Operational.LogLevel); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := persistence.Open(ctx, cfg.Operational.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()
	repos := persistence.NewRepositories(pool)

	redisClient := newRedisClient(cfg)
	if redisClient != nil {
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				log.Error().Err(cerr).Msg("redis_close_failed")
			}
		}()
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Auth.BotToken)
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}
	log.Info().Str("username", bot.Self.UserName).Msg("gryagd_authorized")
	if cfg.Auth.BotUsername == "" {
		cfg.Auth.BotUsername = bot.Self.UserName
	}

	gateway := newGateway(ctx, cfg)

	profileStore := profile.NewStore(repos.Facts, repos.Profiles, gateway, cfg.Profiles)

	windowTracker := episode.NewWindowTracker()
	detector := episode.NewDetector(cfg.Episodes, gateway)
	monitor := episode.NewMonitor(windowTracker, detector, repos.Episodes, cfg.Episodes).WithGenerator(gateway)

	retriever := retrieval.NewRetriever(repos.Messages, gateway, cfg.Context)
	l2 := contextassembler.NewL2Cache(redisClient, time.Duration(cfg.Context.CacheTTLMaxSeconds)*time.Second)
	assembler := contextassembler.NewAssembler(repos.Messages, repos.Episodes, retriever, profileStore, cfg.Context, cfg.Episodes, l2)

	limiter := ratelimit.New(redisClient, repos.Quotas, cfg.Auth.AdminUserIDs, time.Duration(cfg.Limits.SuppressionCooldown)*time.Second)

	promptMgr := prompts.NewManager(repos.Prompts, cfg.Prompts.DefaultText, cfg.Prompts.CacheTTLSeconds)

	learning := botlearning.NewEngine(profileStore, repos.Outcomes, cfg.BotLearning)
	if cfg.BotLearning.EnableInsights {
		learning.WithInsights(gateway, repos.Insights)
	}

	memTools := tools.NewMemoryTools(profileStore)
	dispatcher := commands.NewDispatcher(profileStore, profileStore, repos.Messages, limiter, promptMgr, learning, cfg.Auth.BotUsername)

	downloader := ingest.NewBotDownloader(bot)
	pipeline := ingest.NewPipeline(cfg, bot.Self.ID, downloader)
	sender := &telegramSender{bot: bot}

	orch := orchestrator.New(pipeline, repos.Messages, repos.Episodes, profileStore, monitor, learning,
		gateway, assembler, limiter, promptMgr, memTools, dispatcher, cfg, sender)
	orch.SetDownloader(downloader)
	orch.SetPruner(repos.Messages)
	orch.SetVacuumer(pool)

	orch.Start(ctx)
	defer orch.Stop()

	return pollUpdates(ctx, bot, orch, cfg)
}

func pollUpdates(ctx context.Context, bot *tgbotapi.BotAPI, orch *orchestrator.Orchestrator, cfg config.Config) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updatePollTimeoutSec
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go handleUpdate(ctx, bot, orch, cfg, update.Message)
		}
	}
}

func handleUpdate(ctx context.Context, bot *tgbotapi.BotAPI, orch *orchestrator.Orchestrator, cfg config.Config, msg *tgbotapi.Message) {
	isPrivate := msg.Chat.IsPrivate()
	isAdmin := msg.From != nil && cfg.Auth.IsAdmin(msg.From.ID)
	isBotOriginated := msg.From != nil && msg.From.ID == bot.Self.ID

	reply, err := orch.Handle(ctx, msg, isPrivate, isAdmin, isBotOriginated)
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("gryagd_handle_failed")
		return
	}
	if reply == nil {
		return
	}
	if err := (&telegramSender{bot: bot}).Send(ctx, *reply); err != nil {
		log.Warn().Err(err).Int64("chat_id", reply.ChatID).Msg("gryagd_send_failed")
	}
}

func newGateway(ctx context.Context, cfg config.Config) *llm.Gateway {
	factory := func(apiKey string) (llm.Provider, error) {
		return google.New(ctx, apiKey, cfg.Auth.GenerateModel, cfg.Auth.EmbeddingModel, int32(cfg.Auth.ThinkingBudget))
	}
	return llm.NewGateway(factory, cfg.Auth.LLMAPIKeys, cfg.Auth.FreeTierMode,
		time.Duration(cfg.Auth.KeyBlockSeconds)*time.Second, gatewayMaxKeyFailures, gatewayCircuitCooldown)
}

func newRedisClient(cfg config.Config) redis.UniversalClient {
	if !cfg.Operational.RedisEnabled || cfg.Operational.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.Operational.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("gryagd_redis_url_invalid")
		return nil
	}
	return redis.NewClient(opts)
}
