// Package model holds the core entities shared across the persistence,
// retrieval, memory, and episode packages. Enums are closed string types
// validated at construction so a bad value never reaches storage.
package model

import "fmt"

// Role distinguishes who produced a Message.
type Role string

const (
	RoleUser Role = "user"
	RoleModel Role = "model"
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleSystem:
 return true
	}
	return false
}

// Message is one persisted turn, either ingested from a chat or emitted by
// the bot. Immutable after insert except for embedding backfill.
type Message struct {
	ID int64
	ChatID int64
	ThreadID *int64
	UserID *int64
	Role Role
	Text string
	MediaJSON string // opaque JSON blob describing attached media, may be empty
	EmbeddingJSON string // JSON-encoded []float32; empty when not yet computed
	TS int64 // unix seconds
	TelegramMsgID int64
	Addressed bool
	ReplyToMsgID *int64
}

// MembershipStatus tracks whether a profile's user is still in the chat.
type MembershipStatus string

const (
	MembershipActive MembershipStatus = "active"
	MembershipLeft MembershipStatus = "left"
	MembershipBanned MembershipStatus = "banned"
)

// UserProfile is scoped by (user_id, chat_id).
type UserProfile struct {
	ID int64
	UserID int64
	ChatID int64
	DisplayName string
	Username string
	InteractionCount int64
	LastSeen int64
	Summary string
	Version int
	Membership MembershipStatus
	CreatedAt int64
	UpdatedAt int64
}

// FactOwnerKind distinguishes whose fact this is.
type FactOwnerKind string

const (
	FactOwnerUser FactOwnerKind = "user"
	FactOwnerChat FactOwnerKind = "chat"
	FactOwnerBot FactOwnerKind = "bot"
)

// Fact is a piece of extracted, confidence-weighted, decaying knowledge.
type Fact struct {
	ID int64
	OwnerKind FactOwnerKind
	ProfileID int64 // meaning depends on OwnerKind: user profile id, chat id, or bot profile id
	Category string
	Key string
	Value string
	Confidence float64
	EvidenceCount int
	SourceType string
	ContextTags []string
	EmbeddingJSON string
	DecayRate float64
	LastReinforced int64
	IsActive bool
	CreatedAt int64
	UpdatedAt int64
}

// Chat-level fact categories.
const (
	ChatFactLanguage = "language"
	ChatFactCulture = "culture"
	ChatFactNorms = "norms"
	ChatFactPreferences = "preferences"
	ChatFactTraditions = "traditions"
	ChatFactRules = "rules"
	ChatFactStyle = "style"
	ChatFactTopics = "topics"
)

// Bot self-learning fact categories.
const (
	BotFactCommunicationStyle = "communication_style"
	BotFactKnowledgeDomain = "knowledge_domain"
	BotFactToolEffectiveness = "tool_effectiveness"
	BotFactUserInteraction = "user_interaction"
	BotFactMistakePattern = "mistake_pattern"
	BotFactTemporalPattern = "temporal_pattern"
	BotFactPerformanceMetric = "performance_metric"
)

// EmotionalValence classifies an Episode's overall tone.
type EmotionalValence string

const (
	ValencePositive EmotionalValence = "positive"
	ValenceNegative EmotionalValence = "negative"
	ValenceNeutral EmotionalValence = "neutral"
	ValenceMixed EmotionalValence = "mixed"
)

// Episode is an immutable, summarized slice of consecutive conversation.
type Episode struct {
	ID int64
	ChatID int64
	ThreadID *int64
	Topic string
	Summary string
	SummaryEmbedding string // JSON-encoded []float32
	Importance float64
	Valence EmotionalValence
	MessageIDs []int64
	ParticipantIDs []int64
	Tags []string
	CreatedAt int64
	LastAccessed *int64
	AccessCount int64
}

// InteractionType distinguishes the bot's own reply from a detected user
// reaction to it.
type InteractionType string

const (
	InteractionResponse InteractionType = "response"
	InteractionUserReaction InteractionType = "user_reaction"
)

// Outcome is the observed quality label attached to an interaction.
type Outcome string

const (
	OutcomePraised Outcome = "praised"
	OutcomePositive Outcome = "positive"
	OutcomeNeutral Outcome = "neutral"
	OutcomeNegative Outcome = "negative"
	OutcomeCorrected Outcome = "corrected"
	OutcomeIgnored Outcome = "ignored"
)

// InteractionOutcome records how one bot reply (or the user's reaction to
// it) was judged.
type InteractionOutcome struct {
	ID int64
	BotProfileID int64
	ChatID int64
	ThreadID *int64
	MessageID int64
	InteractionType InteractionType
	Outcome Outcome
	SentimentScore *float64
	ResponseTimeMs *int64
	TokenCount *int64
	ToolsUsed []string
	UserReaction string
	ReactionDelaySeconds *int64
	ContextSnapshot string
	EpisodeID *int64
	CreatedAt int64
}

// InsightType categorizes a generated self-reflection insight.
type InsightType string

const (
	InsightEffectivenessTrend InsightType = "effectiveness_trend"
	InsightCommunicationStyle InsightType = "communication_pattern"
	InsightKnowledgeGap InsightType = "knowledge_gap"
	InsightTemporal InsightType = "temporal_insight"
	InsightImprovementSuggest InsightType = "improvement_suggestion"
)

// Insight is one LLM-generated self-reflection finding over accumulated
// bot facts and interaction outcomes.
type Insight struct {
	ID int64
	ChatID *int64
	Type InsightType
	Text string
	Confidence float64
	Actionable bool
	SupportingFact []string
	CreatedAt int64
}

// PromptScope is where a SystemPrompt applies.
type PromptScope string

const (
	PromptScopeGlobal PromptScope = "global"
	PromptScopeChat PromptScope = "chat"
	PromptScopePersonal PromptScope = "personal"
)

// SystemPrompt is a versioned, scoped prompt. At most one version per
// (scope, chat_id) has IsActive = true.
type SystemPrompt struct {
	ID int64
	Scope PromptScope
	ChatID *int64
	UserID *int64
	Version int
	Text string
	IsActive bool
	CreatedAt int64
}

// ErrInvalidEnum is returned when a closed-enum field fails validation at
// a component boundary.
type ErrInvalidEnum struct {
	Field string
	Value string
}

func (e *ErrInvalidEnum) Error() string {
	return fmt.Sprintf("invalid value %q for %s", e.Value, e.Field)
}

func ValidateOutcome(o Outcome) error {
	switch o {
	case OutcomePraised, OutcomePositive, OutcomeNeutral, OutcomeNegative, OutcomeCorrected, OutcomeIgnored:
 return nil
	}
	return &ErrInvalidEnum{Field: "outcome", Value: string(o)}
}

func ValidateValence(v EmotionalValence) error {
	switch v {
	case ValencePositive, ValenceNegative, ValenceNeutral, ValenceMixed:
 return nil
	}
	return &ErrInvalidEnum{Field: "emotional_valence", Value: string(v)}
}
