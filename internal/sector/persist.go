package sector

import (
	"os"

	"github.com/seedrift/tiller/internal/storage"
)

// LoadState reads the persisted sector state for a repository root. A
// missing file yields an empty state so a first session starts clean.
func LoadState(root string) (State, error) {
	var state State
	err := storage.ReadJSON(storage.SectorsPath(root), &state)
	if os.IsNotExist(err) {
		return State{Version: StateVersion}, nil
	}
	if err != nil {
		return State{}, err
	}
	return state, nil
}

// SaveState atomically writes the sector state for a repository root. Called
// after every scan, outcome, and merge update.
func SaveState(root string, state State) error {
	state.Version = StateVersion
	return storage.WriteJSONAtomic(storage.SectorsPath(root), state)
}
