package systems

// SystemInfo describes one phase of a processor tick.
type SystemInfo struct {
	ID          string // Internal identifier (used for perf tracking)
	Name        string // Display name
	Description string // What this phase does
	Category    string // Grouping (e.g., "build", "solve")
}

// SystemRegistry holds metadata about all processor phases.
// This centralizes phase naming so logs, CSV headers and the perf tracker stay in sync.
type SystemRegistry struct {
	systems []SystemInfo
	byID    map[string]SystemInfo
}

// NewSystemRegistry creates a registry with all known phases.
func NewSystemRegistry() *SystemRegistry {
	reg := &SystemRegistry{
		byID: make(map[string]SystemInfo),
	}
	reg.registerDefaults()
	return reg
}

// registerDefaults adds all known phases in execution order.
// Update this when adding new phases.
func (r *SystemRegistry) registerDefaults() {
	// Building
	r.Register(SystemInfo{ID: "record", Name: "Record", Description: "Rebuilds inventories and converters from a snapshot", Category: "build"})
	r.Register(SystemInfo{ID: "refresh", Name: "Refresh", Description: "Queries behaviours whose changepoint has passed", Category: "build"})
	r.Register(SystemInfo{ID: "connect", Name: "Connect", Description: "Builds pull, push and constraint bitsets", Category: "build"})

	// Time advance
	r.Register(SystemInfo{ID: "integrate", Name: "Integrate", Description: "Advances inventory amounts at current rates", Category: "advance"})
	r.Register(SystemInfo{ID: "constraints", Name: "Constraints", Description: "Re-evaluates converter requirements", Category: "advance"})

	// Solving
	r.Register(SystemInfo{ID: "solve", Name: "Solve", Description: "Assigns converter and inventory rates", Category: "solve"})
	r.Register(SystemInfo{ID: "schedule", Name: "Schedule", Description: "Computes the next changepoint", Category: "solve"})
}

// Register adds a phase to the registry.
func (r *SystemRegistry) Register(info SystemInfo) {
	r.systems = append(r.systems, info)
	r.byID[info.ID] = info
}

// Get returns phase info by ID.
func (r *SystemRegistry) Get(id string) (SystemInfo, bool) {
	info, ok := r.byID[id]
	return info, ok
}

// GetName returns the display name for a phase ID.
// Falls back to the ID itself if not found.
func (r *SystemRegistry) GetName(id string) string {
	if info, ok := r.byID[id]; ok {
		return info.Name
	}
	return id
}

// All returns all registered phases.
func (r *SystemRegistry) All() []SystemInfo {
	return r.systems
}

// ByCategory returns phases filtered by category.
func (r *SystemRegistry) ByCategory(category string) []SystemInfo {
	var result []SystemInfo
	for _, info := range r.systems {
		if info.Category == category {
			result = append(result, info)
		}
	}
	return result
}

// IDs returns all phase IDs in registration order.
func (r *SystemRegistry) IDs() []string {
	ids := make([]string, len(r.systems))
	for i, info := range r.systems {
		ids[i] = info.ID
	}
	return ids
}
