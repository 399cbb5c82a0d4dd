package persistence

// Repositories bundles every repository constructed over a single pool.
type Repositories struct {
	Messages *MessageStore
	Profiles *ProfileStore
	Facts *FactStore
	Episodes *EpisodeStore
	Prompts *PromptStore
	Quotas *QuotaStore
	Outcomes *OutcomeStore
	Insights *InsightStore
	pool DBPool
}

func NewRepositories(pool DBPool) *Repositories {
	return &Repositories{
 Messages: NewMessageStore(pool),
 Profiles: NewProfileStore(pool),
 Facts: NewFactStore(pool),
 Episodes: NewEpisodeStore(pool),
 Prompts: NewPromptStore(pool),
 Quotas: NewQuotaStore(pool),
 Outcomes: NewOutcomeStore(pool),
 Insights: NewInsightStore(pool),
 pool: pool,
	}
}

// Pool exposes the underlying pool for components that need to issue
// maintenance statements directly.
func (r *Repositories) Pool() DBPool { return r.pool }
