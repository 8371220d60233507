package workingmemory

// Placement routes a section into one of the prompt zones: system sections
// join the system block list, notification sections join the per-turn HUD
// message.
const (
	PlacementSystem       = "system"
	PlacementNotification = "notification"
)

// Well-known section names.
const (
	SectionBasePrompt       = "base_prompt"
	SectionDomainDoc        = "domaindoc"
	SectionToolGuidance     = "tool_guidance"
	SectionToolHints        = "tool_hints"
	SectionDatetime         = "datetime_section"
	SectionManifest         = "conversation_manifest"
	SectionReminders        = "active_reminders"
	SectionContextSearch    = "context_search_results"
	SectionRelevantMemories = "relevant_memories"
)

// DisplayOrder fixes the order sections appear in within each composed
// bucket.
var DisplayOrder = []string{
	SectionBasePrompt,
	SectionDomainDoc,
	SectionToolGuidance,
	SectionToolHints,
	SectionDatetime,
	SectionManifest,
	SectionReminders,
	SectionContextSearch,
	SectionRelevantMemories,
}

var notificationSections = map[string]bool{
	SectionDatetime:         true,
	SectionManifest:         true,
	SectionReminders:        true,
	SectionContextSearch:    true,
	SectionRelevantMemories: true,
}

// PlacementFor returns the fixed placement for a section name. Time,
// manifest, reminder, search and memory sections render in the notification
// center; everything else joins the system prompt.
func PlacementFor(name string) string {
	if notificationSections[name] {
		return PlacementNotification
	}
	return PlacementSystem
}

// Section is one named contribution to the composed prompt.
type Section struct {
	Name      string
	Content   string
	Cached    bool
	Placement string
}
