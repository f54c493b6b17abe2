package retire

// Stage orders the retirement sequence. Auctions settle before the final
// save so gold from cancelled listings is captured.
type Stage uint8

const (
	StageLeavingGuild Stage = iota
	StageClearingMail
	StageCancellingAuctions
	StageSavingState
	StageLoggingOut
	StageDeletingCharacter
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageLeavingGuild:
		return "leaving_guild"
	case StageClearingMail:
		return "clearing_mail"
	case StageCancellingAuctions:
		return "cancelling_auctions"
	case StageSavingState:
		return "saving_state"
	case StageLoggingOut:
		return "logging_out"
	case StageDeletingCharacter:
		return "deleting_character"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ParseStage maps a persisted stage name back to its Stage. Unknown names
// restart the sequence from the beginning, which every stage tolerates.
func ParseStage(name string) Stage {
	for s := StageLeavingGuild; s <= StageComplete; s++ {
		if s.String() == name {
			return s
		}
	}
	return StageLeavingGuild
}

// Outcome is the result of one stage attempt.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotNeeded
	OutcomeRetry
)
