package coordination

import "fmt"

// Terms maps logical collection names to store paths. Deployments can
// rename collections without touching the core.
type Terms struct {
	Ceremonies    string `mapstructure:"ceremonies"    yaml:"ceremonies"`
	Participants  string `mapstructure:"participants"  yaml:"participants"`
	Circuits      string `mapstructure:"circuits"      yaml:"circuits"`
	Contributions string `mapstructure:"contributions" yaml:"contributions"`
	Timeouts      string `mapstructure:"timeouts"      yaml:"timeouts"`
}

// DefaultTerms returns the canonical collection names.
func DefaultTerms() Terms {
	return Terms{
		Ceremonies:    "ceremonies",
		Participants:  "participants",
		Circuits:      "circuits",
		Contributions: "contributions",
		Timeouts:      "timeouts",
	}
}

// CeremoniesRef addresses the ceremonies collection.
func (t Terms) CeremoniesRef() string {
	return t.Ceremonies
}

// CeremonyRef addresses one ceremony document.
func (t Terms) CeremonyRef(ceremonyID string) string {
	return fmt.Sprintf("%s/%s", t.Ceremonies, ceremonyID)
}

// ParticipantRef addresses one participant document.
func (t Terms) ParticipantRef(ceremonyID, participantID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Ceremonies, ceremonyID, t.Participants, participantID)
}

// CircuitsRef addresses the circuits collection of a ceremony.
func (t Terms) CircuitsRef(ceremonyID string) string {
	return fmt.Sprintf("%s/%s/%s", t.Ceremonies, ceremonyID, t.Circuits)
}

// CircuitRef addresses one circuit document.
func (t Terms) CircuitRef(ceremonyID, circuitID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Ceremonies, ceremonyID, t.Circuits, circuitID)
}

// TimeoutsRef addresses a participant's timeout collection.
func (t Terms) TimeoutsRef(ceremonyID, participantID string) string {
	return fmt.Sprintf("%s/%s", t.ParticipantRef(ceremonyID, participantID), t.Timeouts)
}

// ContributionsRef addresses a circuit's contributions collection.
func (t Terms) ContributionsRef(ceremonyID, circuitID string) string {
	return fmt.Sprintf("%s/%s", t.CircuitRef(ceremonyID, circuitID), t.Contributions)
}
