package policy

// PolicyUpdated is published on the event bus whenever a profile
// version is installed or rolled back (SPEC_FULL.md section 4.5,
// "Update propagation"). Consumers (the Session Orchestrator, for each
// active session using ProfileID) apply Profile to their QoS Scheduler.
type PolicyUpdated struct {
	ProfileID string
	Version   string
	Profile   Profile
	Rollback  bool
}
