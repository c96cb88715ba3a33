package checkpoint

// Disabled satisfies the orchestrator's checkpoint surface while persisting
// nothing. Used when checkpointing is turned off so the run pipeline keeps a
// single code path.
type Disabled struct{}

// Load reports an empty state.
func (Disabled) Load() (State, error) { return State{}, nil }

// MarkSucceeded discards the mark.
func (Disabled) MarkSucceeded(string) error { return nil }

// MarkFailed discards the mark.
func (Disabled) MarkFailed(string) error { return nil }

// Contains always reports false so every URL is eligible for processing.
func (Disabled) Contains(string) bool { return false }

// Succeeded always reports false.
func (Disabled) Succeeded(string) bool { return false }

// Failed always reports false.
func (Disabled) Failed(string) bool { return false }

// FailedURLs reports an empty set.
func (Disabled) FailedURLs() []string { return nil }

// SetStats discards the stats.
func (Disabled) SetStats(map[string]any) error { return nil }
