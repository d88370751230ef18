package protocol

import "github.com/range-cupp/rangemedical-system-2-sub009/internal/model"

// programDefaults shapes a protocol created straight from a purchase.
type programDefaults struct {
	delivery model.DeliveryMethod
	sessions *int
	days     int
}

// defaultsFor returns the starting shape for a purchase of sessionCount
// sessions. sessionCount below one counts as one.
func defaultsFor(pt model.ProgramType, sessionCount int) programDefaults {
	if sessionCount < 1 {
		sessionCount = 1
	}
	switch pt {
	case model.ProgramWeightLoss:
		return programDefaults{delivery: model.DeliveryTakeHome, sessions: intPtr(4), days: 28}
	case model.ProgramHRT, model.ProgramPeptide:
		return programDefaults{delivery: model.DeliveryTakeHome, days: 30}
	case model.ProgramIVTherapy:
		return programDefaults{delivery: model.DeliveryInClinic, sessions: intPtr(1), days: 7}
	default:
		return programDefaults{delivery: model.DeliveryInClinic, sessions: intPtr(sessionCount), days: 7 * sessionCount}
	}
}

func intPtr(n int) *int { return &n }
