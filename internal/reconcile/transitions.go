package reconcile

import "github.com/boddenberg/esim-fleet-bfa/internal/domain"

// allowedTransitions lists every status change the service accepts. Anything else
// observed while reconciling is an anomaly.
var allowedTransitions = map[domain.EsimStatus][]domain.EsimStatus{
	domain.StatusPending: {
		domain.StatusWaitingForActivation, domain.StatusActivated, domain.StatusError,
		domain.StatusCancelled, domain.StatusExpired,
	},
	domain.StatusWaitingForActivation: {
		domain.StatusActivated, domain.StatusError, domain.StatusCancelled, domain.StatusExpired,
	},
	domain.StatusActivated: {
		domain.StatusDepleted, domain.StatusExpired, domain.StatusCancelled,
	},
	domain.StatusError: {
		domain.StatusPending, domain.StatusWaitingForActivation, domain.StatusActivated, domain.StatusCancelled,
	},
	domain.StatusDepleted: {
		domain.StatusActivated, domain.StatusExpired, domain.StatusCancelled,
	},
	domain.StatusExpired: {
		domain.StatusActivated,
	},
	domain.StatusCancelled: {},
}

// Normalize folds the legacy "active" spelling into activated.
func Normalize(s domain.EsimStatus) domain.EsimStatus {
	if s == domain.StatusActive {
		return domain.StatusActivated
	}
	return s
}

// CanTransition reports whether from -> to is allowed. Staying put is always allowed,
// and a record with an unrecognized local status may move to any known status.
func CanTransition(from, to domain.EsimStatus) bool {
	from, to = Normalize(from), Normalize(to)
	if from == to {
		return true
	}
	if _, known := allowedTransitions[to]; !known {
		return false
	}
	next, known := allowedTransitions[from]
	if !known {
		return true
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
