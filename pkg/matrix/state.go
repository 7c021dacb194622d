package matrix

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethpandaops/trendoor/pkg/fsutil"
)

// StateSchemaVersion is the schema version written into state documents.
const StateSchemaVersion = 1

// Cell states.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Cell is the persisted record for one (revision, suite, scale) unit of work.
type Cell struct {
	Revision      string `json:"revision"`
	Suite         string `json:"suite"`
	Scale         string `json:"scale"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	FailureReason string `json:"failureReason,omitempty"`
	UpdatedAt     string `json:"updatedAt"`
}

// State is the matrix scheduler's durable state document.
type State struct {
	SchemaVersion int              `json:"schemaVersion"`
	Cells         map[string]*Cell `json:"cells"`
}

// NewState returns an empty state document.
func NewState() *State {
	return &State{
		SchemaVersion: StateSchemaVersion,
		Cells:         make(map[string]*Cell),
	}
}

// CellKey builds the state map key for a cell.
func CellKey(revision, suite, scale string) string {
	return revision + "|" + suite + "|" + scale
}

// LoadState reads a state document from path. A missing file yields an
// empty state, so a first run and a resumed run share the same code path.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}

		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}

	if state.Cells == nil {
		state.Cells = make(map[string]*Cell)
	}

	return &state, nil
}

// SaveState persists the whole state document atomically.
func SaveState(path string, state *State) error {
	if err := fsutil.WriteJSONAtomic(path, state); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}

	return nil
}
