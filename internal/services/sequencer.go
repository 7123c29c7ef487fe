package services

// NextMode suggests the prompt type for a participant's next interaction.
// The count of each mode in the history is compared and the deficit side
// wins; ties go to the group's designated starting mode. The result is a
// suggestion only: callers choose the mode for each request themselves and
// the chosen mode is validated against the enum, not against this function.
func NextMode(group StudyGroup, interactions []InteractionRecord) PromptType {
	var editors, challengers int
	for _, rec := range interactions {
		switch rec.PromptType {
		case PromptEditor:
			editors++
		case PromptChallenger:
			challengers++
		}
	}
	if group == GroupChallengerFirst {
		if challengers <= editors {
			return PromptChallenger
		}
		return PromptEditor
	}
	// editor-first, also the fallback for an unknown group
	if editors <= challengers {
		return PromptEditor
	}
	return PromptChallenger
}
