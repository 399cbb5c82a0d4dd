package commands

import (
	"context"

	"github.com/thathunky/gryag/internal/botlearning"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
)

// Facts is the subset of profile.Store the dispatcher needs for
// fact-level admin commands.
type Facts interface {
	GetFacts(ctx context.Context, in profile.GetFactsInput) ([]model.Fact, error)
	DeleteFact(ctx context.Context, id int64) error
	ClearUserFacts(ctx context.Context, userID int64) error
}

// Profiles is the subset of profile.Store the dispatcher needs for
// profile/membership admin commands.
type Profiles interface {
	GetProfile(ctx context.Context, userID, chatID int64) (model.UserProfile, bool, error)
	SetMembership(ctx context.Context, userID, chatID int64, status model.MembershipStatus) error
}

// Messages is the subset of persistence.MessageStore the chat-memory
// commands need.
type Messages interface {
	CountByChat(ctx context.Context, chatID int64) (int64, error)
	DeleteByChat(ctx context.Context, chatID int64) (int64, error)
	SenderMessageCounts(ctx context.Context, chatID int64) (map[int64]int64, error)
}

// RateLimiter is the subset of ratelimit.Limiter the dispatcher needs for
// quota-reset admin commands.
type RateLimiter interface {
	ResetUser(ctx context.Context, userID int64, feature string) error
}

// Prompts is prompts.Manager's surface, used by the system-prompt admin
// commands.
type Prompts interface {
	Effective(ctx context.Context, chatID *int64) (string, string, error)
	ActivePrompt(ctx context.Context, scope model.PromptScope, chatID *int64) (model.SystemPrompt, bool, error)
	Set(ctx context.Context, scope model.PromptScope, chatID, userID *int64, text string) (model.SystemPrompt, error)
	Reset(ctx context.Context, scope model.PromptScope, chatID *int64) (bool, error)
	History(ctx context.Context, scope model.PromptScope, chatID *int64, limit int) ([]model.SystemPrompt, error)
	ActivateVersion(ctx context.Context, scope model.PromptScope, chatID *int64, version int) error
	LastCacheHit() bool
}

// Learning is the subset of botlearning.Engine the self/insights admin
// commands need.
type Learning interface {
	EffectivenessSummary(ctx context.Context, chatID int64, days int) (botlearning.Summary, error)
	GenerateInsights(ctx context.Context, chatID *int64) ([]model.Insight, error)
}
