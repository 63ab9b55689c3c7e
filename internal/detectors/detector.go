// Package detectors finds call sites of string decryption routines in loaded
// classes and recovers the plaintext by running the routines.
package detectors

// Finding is one static call whose arguments are all compile-time
// constants.
type Finding struct {
	// Class and Method locate the call site.
	Class      string `json:"class"`
	Method     string `json:"method"`
	MethodDesc string `json:"method_desc"`
	// Index is the instruction index of the invoke.
	Index int `json:"index"`

	Owner string   `json:"owner"`
	Name  string   `json:"name"`
	Desc  string   `json:"desc"`
	Args  []string `json:"args"` // Formatted constant arguments

	State   string         `json:"state,omitempty"` // Execution outcome, empty until run
	Value   string         `json:"value,omitempty"`
	Error   string         `json:"error,omitempty"`
	Comment string         `json:"comment,omitempty"`
	Meta    map[string]any `json:"metadata,omitempty"` // Detector-specific metadata

	constants []any
}

// Target returns the callee as owner.name(desc).
func (f *Finding) Target() string {
	return f.Owner + "." + f.Name + f.Desc
}

// Detector analyzes findings and enriches them.
// It can modify existing findings or add new ones.
type Detector interface {
	Detect(findings []Finding) []Finding
}

// DetectorChain runs multiple detectors in sequence
type DetectorChain struct {
	detectors []Detector
}

// NewDetectorChain creates a new detector chain
func NewDetectorChain(detectors ...Detector) *DetectorChain {
	return &DetectorChain{
		detectors: detectors,
	}
}

// Detect runs all detectors in sequence
func (dc *DetectorChain) Detect(findings []Finding) []Finding {
	result := findings
	for _, detector := range dc.detectors {
		result = detector.Detect(result)
	}
	return result
}
