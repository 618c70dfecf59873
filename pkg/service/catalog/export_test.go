package catalog

// Export private functions for testing
var (
	BuildSystemPrompt   = buildSystemPrompt
	BuildUserPrompt     = buildUserPrompt
	BuildResponseSchema = buildResponseSchema
	ParseItems          = parseItems
	NormalizeItems      = normalizeItems
)

type RawItem = rawItem
