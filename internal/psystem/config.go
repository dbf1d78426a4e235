package psystem

// MembraneConfig declares one membrane. Parent 0 (or omitted) marks the skin.
type MembraneConfig struct {
	ID     int `json:"id"`
	Label  int `json:"label"`
	Parent int `json:"parent,omitempty"`
}

// RuleConfig declares one rule. Target is "here" (default), "out" or "in";
// "in" needs exactly one of TargetLabel or TargetID.
type RuleConfig struct {
	Name        string         `json:"name,omitempty"`
	Label       int            `json:"label"`
	LHS         map[string]int `json:"lhs"`
	RHS         map[string]int `json:"rhs,omitempty"`
	Target      string         `json:"target,omitempty"`
	TargetLabel *int           `json:"target_label,omitempty"`
	TargetID    *int           `json:"target_id,omitempty"`
	Dissolve    bool           `json:"dissolve,omitempty"`
	Priority    int            `json:"priority,omitempty"`
}

// SystemConfig is the JSON form of a System.
// Initial maps a membrane id (as a string key) to its object counts.
type SystemConfig struct {
	Name      string                    `json:"name"`
	Model     string                    `json:"model,omitempty"`
	Alphabet  []string                  `json:"alphabet,omitempty"`
	Membranes []MembraneConfig          `json:"membranes"`
	Initial   map[string]map[string]int `json:"initial,omitempty"`
	Rules     []RuleConfig              `json:"rules"`
}
