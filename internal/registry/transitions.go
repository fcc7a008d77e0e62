package registry

import "github.com/TheGojiOG/steamserv/internal/models"

// transitions is the per-record state machine. Updating is the transient
// marker held while an update runs.
var transitions = map[models.Status][]models.Status{
	models.StatusPending: {
		models.StatusInstalled,
		models.StatusFailed,
	},
	models.StatusInstalled: {
		models.StatusRunning,
		models.StatusInstalled, // stop is a no-op; update success
		models.StatusUpdating,
		models.StatusFailed,
		models.StatusUninstalled,
	},
	models.StatusRunning: {
		models.StatusStopped,
		models.StatusUpdating,
		models.StatusInstalled,
		models.StatusFailed,
	},
	models.StatusStopped: {
		models.StatusRunning,
		models.StatusUpdating,
		models.StatusInstalled,
		models.StatusFailed,
		models.StatusUninstalled,
	},
	models.StatusUpdating: {
		models.StatusInstalled,
		models.StatusFailed,
	},
	models.StatusFailed: {
		models.StatusUninstalled,
	},
	models.StatusUninstalled: {},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to models.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
