package workingmemory

import (
	"strings"
	"testing"
)

func TestComposerSetBasePromptWrapsWithScaffoldingNote(t *testing.T) {
	c := NewComposer()
	c.SetBasePrompt("You are Mira, a personal assistant.\n")

	prompt := c.Compose()
	if !strings.HasPrefix(prompt.Cached, "You are Mira, a personal assistant.") {
		t.Fatalf("base prompt text missing from cached bucket: %q", prompt.Cached)
	}
	if !strings.Contains(prompt.Cached, sectionDelimiter) {
		t.Error("cached bucket missing the scaffolding delimiter")
	}
	if !strings.Contains(prompt.Cached, scaffoldingNote) {
		t.Error("cached bucket missing the scaffolding note")
	}
	if prompt.NonCached != "" || prompt.NotificationCenter != "" {
		t.Errorf("base prompt leaked outside the cached bucket: %q / %q", prompt.NonCached, prompt.NotificationCenter)
	}
}

func TestComposerAddSectionIgnoresEmptyContent(t *testing.T) {
	c := NewComposer()
	c.AddSection(SectionToolHints, "", false, PlacementSystem)
	c.AddSection(SectionDatetime, "  \n\t", false, PlacementNotification)

	prompt := c.Compose()
	if prompt.NonCached != "" {
		t.Errorf("empty section produced non-cached content: %q", prompt.NonCached)
	}
	if prompt.NotificationCenter != "" {
		t.Errorf("blank section produced notification content: %q", prompt.NotificationCenter)
	}
}

func TestComposerBucketsByPlacementAndCachePolicy(t *testing.T) {
	c := NewComposer()
	c.SetBasePrompt("Base prompt.")
	c.AddSection(SectionDomainDoc, "Domain knowledge.", true, PlacementSystem)
	c.AddSection(SectionToolHints, "Hint: quote file paths.", false, PlacementSystem)
	c.AddSection(SectionDatetime, "Current date and time: Monday.", false, PlacementNotification)

	prompt := c.Compose()
	if !strings.Contains(prompt.Cached, "Domain knowledge.") {
		t.Errorf("cached system section missing: %q", prompt.Cached)
	}
	if !strings.Contains(prompt.Cached, "Base prompt.") {
		t.Errorf("base prompt missing from cached bucket: %q", prompt.Cached)
	}
	if strings.Contains(prompt.Cached, "Hint:") {
		t.Error("non-cached section leaked into the cached bucket")
	}
	if prompt.NonCached != "Hint: quote file paths." {
		t.Errorf("unexpected non-cached bucket: %q", prompt.NonCached)
	}
	if !strings.Contains(prompt.NotificationCenter, "Current date and time: Monday.") {
		t.Errorf("notification section missing: %q", prompt.NotificationCenter)
	}
	if !strings.HasPrefix(prompt.NotificationCenter, notificationHeader) {
		t.Error("notification center missing its header preface")
	}
	if !strings.HasSuffix(prompt.NotificationCenter, sectionDelimiter) {
		t.Error("notification center missing its trailing delimiter")
	}
}

func TestComposerFollowsDisplayOrder(t *testing.T) {
	c := NewComposer()
	// Added in reverse of display order on purpose.
	c.AddSection(SectionRelevantMemories, "memories here", false, PlacementNotification)
	c.AddSection(SectionManifest, "manifest here", false, PlacementNotification)
	c.AddSection(SectionDatetime, "datetime here", false, PlacementNotification)

	prompt := c.Compose()
	datetimeAt := strings.Index(prompt.NotificationCenter, "datetime here")
	manifestAt := strings.Index(prompt.NotificationCenter, "manifest here")
	memoriesAt := strings.Index(prompt.NotificationCenter, "memories here")
	if datetimeAt == -1 || manifestAt == -1 || memoriesAt == -1 {
		t.Fatalf("sections missing from notification center: %q", prompt.NotificationCenter)
	}
	if !(datetimeAt < manifestAt && manifestAt < memoriesAt) {
		t.Errorf("sections out of display order: datetime=%d manifest=%d memories=%d", datetimeAt, manifestAt, memoriesAt)
	}
}

func TestComposerSeparatorAndNewlineCollapse(t *testing.T) {
	c := NewComposer()
	c.SetBasePrompt("Base.")
	c.AddSection(SectionDomainDoc, "First line.\n\n\n\nSecond line.", true, PlacementSystem)

	prompt := c.Compose()
	if !strings.Contains(prompt.Cached, "\n\n---\n\n") {
		t.Errorf("sections not joined with the separator: %q", prompt.Cached)
	}
	if strings.Contains(prompt.Cached, "\n\n\n") {
		t.Errorf("newline run survived composition: %q", prompt.Cached)
	}
	if !strings.Contains(prompt.Cached, "First line.\n\nSecond line.") {
		t.Errorf("newline run not collapsed to a blank line: %q", prompt.Cached)
	}
}

func TestComposerClearDynamicKeepsBasePrompt(t *testing.T) {
	c := NewComposer()
	c.SetBasePrompt("Base prompt.")
	c.AddSection(SectionDatetime, "stale datetime", false, PlacementNotification)
	c.AddSection(SectionDomainDoc, "stale doc", true, PlacementSystem)

	c.ClearDynamic()

	prompt := c.Compose()
	if !strings.Contains(prompt.Cached, "Base prompt.") {
		t.Error("base prompt did not survive ClearDynamic")
	}
	if strings.Contains(prompt.Cached, "stale doc") || prompt.NotificationCenter != "" {
		t.Error("dynamic sections survived ClearDynamic")
	}
}

func TestComposerSectionReplacesPrevious(t *testing.T) {
	c := NewComposer()
	c.AddSection(SectionDatetime, "old time", false, PlacementNotification)
	c.AddSection(SectionDatetime, "new time", false, PlacementNotification)

	prompt := c.Compose()
	if strings.Contains(prompt.NotificationCenter, "old time") {
		t.Errorf("stale section content survived replacement: %q", prompt.NotificationCenter)
	}
	if strings.Count(prompt.NotificationCenter, "new time") != 1 {
		t.Errorf("expected exactly one datetime section: %q", prompt.NotificationCenter)
	}
}
