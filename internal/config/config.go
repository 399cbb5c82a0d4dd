// Package config loads the process configuration from environment
// variables (optionally seeded from a.env file), read once at startup and
// threaded explicitly into every constructor,
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AuthConfig groups bot/LLM credentials and model selection.
type AuthConfig struct {
	BotToken string
	BotUsername string // without leading "@", resolved at startup via GetMe if unset
	NameVariants []string // fuzzy-matched name/nickname forms for addressing detection
	LLMAPIKeys []string // ordered pool; index 0 tried first
	GenerateModel string
	EmbeddingModel string
	FreeTierMode bool
	KeyBlockSeconds int
	ThinkingBudget int
	AdminUserIDs map[int64]struct{}
}

func (a AuthConfig) IsAdmin(userID int64) bool {
	_, ok := a.AdminUserIDs[userID]
	return ok
}

// LimitsConfig groups rate, cooldown, and quota knobs.
type LimitsConfig struct {
	PerUserPerHour int
	FeatureLimits map[string]int // feature -> per-hour limit
	CooldownSeconds map[string]int // feature -> cooldown seconds
	CommandCooldownSec int
	ImageDailyLimit int
	SuppressionCooldown int // seconds; default 600
	ReactionTimeoutSec int // default 300
	ProcessingLockTTLSec int // default 300
}

// ContextConfig groups multi-level context and hybrid search knobs.
type ContextConfig struct {
	EnableMultiLevel bool
	TokenBudget int
	MaxTurns int
	SummaryThreshold int
	SemanticWeight float64
	KeywordWeight float64
	TemporalWeight float64
	TemporalHalfLifeDays float64
	MaxSearchCandidates int
	RelevanceThreshold float64
	CharsPerToken float64
	CacheTTLMinSeconds int
	CacheTTLMaxSeconds int
	L1CacheSize int
	UserWeightCacheSeconds int
}

// EpisodesConfig groups episode engine knobs.
type EpisodesConfig struct {
	Enabled bool
	AutoCreate bool
	ShortGapSeconds int
	MediumGapSeconds int
	LongGapSeconds int
	SimilarityLow float64
	SimilarityMedium float64
	SimilarityHigh float64
	BoundaryThreshold float64
	MinMessages int
	MaxMessagesPerWindow int
	WindowTimeoutSeconds int
	MonitorIntervalSeconds int
	BatchDelayMS int
	SummarizationRatePerMin int
	UseLLMSummarization bool
}

// ProfilesConfig groups profile/fact store knobs.
type ProfilesConfig struct {
	EnableUserProfiling bool
	EnableChatProfiling bool
	EnableBotProfiling bool
	RetentionDays int
	MaxFactsPerUser int
	MinConfidence float64
	EnableDecay bool
	EnableDedup bool
	SummarizeHourUTC int
	MaxProfilesPerDay int
	DedupThreshold float64 // 0.85 per spec
}

// BotLearningConfig groups self-learning/reflection knobs.
type BotLearningConfig struct {
	EnableInsights bool
	InsightWindowDays int
	MaxFactsInPrompt int
}

// PromptsConfig groups system-prompt defaults and cache knobs.
type PromptsConfig struct {
	DefaultText string
	CacheTTLSeconds int
}

// IngestConfig groups message-ingest/media knobs.
type IngestConfig struct {
	AlbumCacheTTLSeconds int
	AlbumWaitMS int
	MediaMaxRetries int
	MediaMaxInlineBytes int64
	ImageRecompressBytes int64
	ImageMaxDimensionPx int
	ImageJPEGQuality int
}

// FilterMode is the chat-filter behavior mode.
type FilterMode string

const (
	FilterGlobal FilterMode = "global"
	FilterWhitelist FilterMode = "whitelist"
	FilterBlacklist FilterMode = "blacklist"
)

// FilterConfig groups chat-admission settings.
type FilterConfig struct {
	Mode FilterMode
	AllowedChats map[int64]struct{}
	BlockedChats map[int64]struct{}
}

// OperationalConfig groups infra endpoints and retention/log settings.
type OperationalConfig struct {
	DatabaseURL string
	RedisURL string
	RedisEnabled bool
	RetentionDays int
	LogDir string
	LogLevel string
	LogRetentionDays int
}

// Config is the fully resolved, read-once process configuration.
type Config struct {
	Auth AuthConfig
	Limits LimitsConfig
	Context ContextConfig
	Episodes EpisodesConfig
	Profiles ProfilesConfig
	Filter FilterConfig
	Ingest IngestConfig
	BotLearning BotLearningConfig
	Prompts PromptsConfig
	Operational OperationalConfig
}

// Load reads.env (if present, silently ignored otherwise) then builds a
// Config from the environment, applying the documented defaults for any
// unset knob.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
 Auth: AuthConfig{
 BotToken: getenv("TELEGRAM_BOT_TOKEN"),
 BotUsername: strings.TrimPrefix(getenv("TELEGRAM_BOT_USERNAME"), "@"),
 NameVariants: splitNonEmpty(firstNonEmpty(getenv("BOT_NAME_VARIANTS"), "gryag,гряг,гриаг"), ","),
 LLMAPIKeys: splitNonEmpty(getenv("GEMINI_API_KEYS"), ","),
 GenerateModel: firstNonEmpty(getenv("GEMINI_GENERATE_MODEL"), "gemini-2.0-flash"),
 EmbeddingModel: firstNonEmpty(getenv("GEMINI_EMBEDDING_MODEL"), "text-embedding-004"),
 FreeTierMode: getbool("GEMINI_FREE_TIER_MODE", false),
 KeyBlockSeconds: getint("GEMINI_KEY_BLOCK_SECONDS", 60),
 ThinkingBudget: getint("GEMINI_THINKING_BUDGET", 0),
 AdminUserIDs: parseInt64Set(getenv("ADMIN_USER_IDS")),
 },
 Limits: LimitsConfig{
 PerUserPerHour: getint("LIMIT_PER_USER_PER_HOUR", 5),
 FeatureLimits: parseFeatureIntMap(getenv("FEATURE_LIMITS")), // "weather=5,currency=5"
 CooldownSeconds: parseFeatureIntMap(getenv("FEATURE_COOLDOWNS")),
 CommandCooldownSec: getint("COMMAND_COOLDOWN_SECONDS", 3),
 ImageDailyLimit: getint("IMAGE_DAILY_LIMIT", 5),
 SuppressionCooldown: getint("THROTTLE_SUPPRESSION_SECONDS", 600),
 ReactionTimeoutSec: getint("REACTION_TIMEOUT_SECONDS", 300),
 ProcessingLockTTLSec: getint("PROCESSING_LOCK_TTL_SECONDS", 300),
 },
 Context: ContextConfig{
 EnableMultiLevel: getbool("ENABLE_MULTI_LEVEL_CONTEXT", true),
 TokenBudget: getint("CONTEXT_TOKEN_BUDGET", 8000),
 MaxTurns: getint("CONTEXT_MAX_TURNS", 5),
 SummaryThreshold: getint("CONTEXT_SUMMARY_THRESHOLD", 50),
 SemanticWeight: getfloat("HYBRID_SEMANTIC_WEIGHT", 0.6),
 KeywordWeight: getfloat("HYBRID_KEYWORD_WEIGHT", 0.4),
 TemporalWeight: getfloat("HYBRID_TEMPORAL_WEIGHT", 1.0),
 TemporalHalfLifeDays: getfloat("TEMPORAL_HALF_LIFE_DAYS", 7),
 MaxSearchCandidates: getint("MAX_SEARCH_CANDIDATES", 500),
 RelevanceThreshold: getfloat("RELEVANCE_THRESHOLD", 0.0),
 CharsPerToken: getfloat("CHARS_PER_TOKEN", 4),
 CacheTTLMinSeconds: getint("CONTEXT_CACHE_TTL_MIN_SECONDS", 60),
 CacheTTLMaxSeconds: getint("CONTEXT_CACHE_TTL_MAX_SECONDS", 90),
 L1CacheSize: getint("CONTEXT_L1_CACHE_SIZE", 100),
 UserWeightCacheSeconds: getint("USER_WEIGHT_CACHE_SECONDS", 300),
 },
 Episodes: EpisodesConfig{
 Enabled: getbool("ENABLE_EPISODIC_MEMORY", true),
 AutoCreate: getbool("AUTO_CREATE_EPISODES", true),
 ShortGapSeconds: getint("EPISODE_SHORT_GAP_SECONDS", 120),
 MediumGapSeconds: getint("EPISODE_MEDIUM_GAP_SECONDS", 900),
 LongGapSeconds: getint("EPISODE_LONG_GAP_SECONDS", 3600),
 SimilarityLow: getfloat("EPISODE_SIMILARITY_LOW", 0.3),
 SimilarityMedium: getfloat("EPISODE_SIMILARITY_MEDIUM", 0.5),
 SimilarityHigh: getfloat("EPISODE_SIMILARITY_HIGH", 0.7),
 BoundaryThreshold: getfloat("EPISODE_BOUNDARY_THRESHOLD", 0.6),
 MinMessages: getint("EPISODE_MIN_MESSAGES", 5),
 MaxMessagesPerWindow: getint("EPISODE_MAX_MESSAGES_PER_WINDOW", 50),
 WindowTimeoutSeconds: getint("EPISODE_WINDOW_TIMEOUT_SECONDS", 1800),
 MonitorIntervalSeconds: getint("EPISODE_MONITOR_INTERVAL_SECONDS", 300),
 BatchDelayMS: getint("EPISODE_BATCH_DELAY_MS", 100),
 SummarizationRatePerMin: getint("EPISODE_SUMMARIZATION_RATE_PER_MIN", 1),
 UseLLMSummarization: getbool("EPISODE_USE_LLM_SUMMARIZATION", false),
 },
 Profiles: ProfilesConfig{
 EnableUserProfiling: getbool("ENABLE_USER_PROFILING", true),
 EnableChatProfiling: getbool("ENABLE_CHAT_PROFILING", true),
 EnableBotProfiling: getbool("ENABLE_BOT_PROFILING", true),
 RetentionDays: getint("PROFILE_RETENTION_DAYS", 365),
 MaxFactsPerUser: getint("MAX_FACTS_PER_USER", 200),
 MinConfidence: getfloat("FACT_MIN_CONFIDENCE", 0.3),
 EnableDecay: getbool("FACT_ENABLE_DECAY", true),
 EnableDedup: getbool("FACT_ENABLE_DEDUP", true),
 SummarizeHourUTC: getint("PROFILE_SUMMARIZE_HOUR_UTC", 3),
 MaxProfilesPerDay: getint("PROFILE_MAX_PER_DAY", 200),
 DedupThreshold: getfloat("FACT_DEDUP_THRESHOLD", 0.85),
 },
 Filter: FilterConfig{
 Mode: FilterMode(firstNonEmpty(getenv("CHAT_FILTER_MODE"), string(FilterGlobal))),
 AllowedChats: parseInt64Set(getenv("ALLOWED_CHAT_IDS")),
 BlockedChats: parseInt64Set(getenv("BLOCKED_CHAT_IDS")),
 },
 Ingest: IngestConfig{
 AlbumCacheTTLSeconds: getint("ALBUM_CACHE_TTL_SECONDS", 30),
 AlbumWaitMS: getint("ALBUM_WAIT_MS", 1500),
 MediaMaxRetries: getint("MEDIA_MAX_RETRIES", 3),
 MediaMaxInlineBytes: int64(getint("MEDIA_MAX_INLINE_BYTES", 20*1024*1024)),
 ImageRecompressBytes: int64(getint("IMAGE_RECOMPRESS_THRESHOLD_BYTES", 1024*1024)),
 ImageMaxDimensionPx: getint("IMAGE_MAX_DIMENSION_PX", 1600),
 ImageJPEGQuality: getint("IMAGE_JPEG_QUALITY", 80),
 },
 BotLearning: BotLearningConfig{
 EnableInsights: getbool("ENABLE_BOT_INSIGHTS", true),
 InsightWindowDays: getint("BOT_INSIGHT_WINDOW_DAYS", 7),
 MaxFactsInPrompt: getint("BOT_INSIGHT_MAX_FACTS", 30),
 },
 Prompts: PromptsConfig{
 DefaultText: firstNonEmpty(getenv("DEFAULT_SYSTEM_PROMPT"),
 "You are gryag, a helpful and sharp-tongued group chat assistant. Keep replies concise."),
 CacheTTLSeconds: getint("SYSTEM_PROMPT_CACHE_TTL_SECONDS", 3600),
 },
 Operational: OperationalConfig{
 DatabaseURL: getenv("DATABASE_URL"),
 RedisURL: getenv("REDIS_URL"),
 RedisEnabled: getbool("REDIS_ENABLED", getenv("REDIS_URL") != ""),
 RetentionDays: getint("MESSAGE_RETENTION_DAYS", 90),
 LogDir: getenv("LOG_DIR"),
 LogLevel: firstNonEmpty(getenv("LOG_LEVEL"), "info"),
 LogRetentionDays: getint("LOG_RETENTION_DAYS", 14),
 },
	}
	return cfg, nil
}

func getenv(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func firstNonEmpty(vals...string) string {
	for _, v := range vals {
 if v != "" {
 return v
 }
	}
	return ""
}

func getint(key string, def int) int {
	v := getenv(key)
	if v == "" {
 return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
 return def
	}
	return n
}

func getfloat(key string, def float64) float64 {
	v := getenv(key)
	if v == "" {
 return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
 return def
	}
	return f
}

func getbool(key string, def bool) bool {
	v := getenv(key)
	if v == "" {
 return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
 return def
	}
	return b
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
 return nil
	}
	var out []string
	for _, p := range strings.Split(s, sep) {
 p = strings.TrimSpace(p)
 if p != "" {
 out = append(out, p)
 }
	}
	return out
}

func parseInt64Set(s string) map[int64]struct{} {
	out := map[int64]struct{}{}
	for _, p := range splitNonEmpty(s, ",") {
 if n, err := strconv.ParseInt(p, 10, 64); err == nil {
 out[n] = struct{}{}
 }
	}
	return out
}

// parseFeatureIntMap parses "feature=5,other=10" into a map.
func parseFeatureIntMap(s string) map[string]int {
	out := map[string]int{}
	for _, p := range splitNonEmpty(s, ",") {
 kv := strings.SplitN(p, "=", 2)
 if len(kv) != 2 {
 continue
 }
 if n, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil {
 out[strings.TrimSpace(kv[0])] = n
 }
	}
	return out
}
