package psystem

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot represents a point-in-time capture of an environment's state:
// the step counter, the active membranes and every non-empty multiset.
type Snapshot struct {
	EnvironmentID EnvironmentID             `json:"environment_id" cbor:"environment_id"`
	System        string                    `json:"system" cbor:"system"`
	Step          int                       `json:"step" cbor:"step"`
	Active        []int                     `json:"active" cbor:"active"`
	Multisets     map[string]map[string]int `json:"multisets" cbor:"multisets"`
}

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("psystem: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

// SnapshotFromConfiguration captures cfg as a Snapshot.
func SnapshotFromConfiguration(envID EnvironmentID, sys *System, cfg Configuration) Snapshot {
	snap := Snapshot{
		EnvironmentID: envID,
		System:        sys.Name(),
		Step:          cfg.step,
		Active:        make([]int, 0, len(cfg.active)),
		Multisets:     make(map[string]map[string]int),
	}
	for _, id := range cfg.ActiveIDs() {
		snap.Active = append(snap.Active, int(id))
	}
	for id, m := range cfg.multisets {
		if m.IsEmpty() {
			continue
		}
		snap.Multisets[strconv.Itoa(int(id))] = multisetToConfig(m)
	}
	return snap
}

// ValidateSnapshot checks that a snapshot fits sys:
//   - the system name matches (when sys is not nil)
//   - every active and multiset id is a membrane of sys
//   - the skin is active
//   - counts are positive
//
// If sys is nil, only the counts are checked.
func ValidateSnapshot(snapshot Snapshot, sys *System) error {
	if snapshot.Step < 0 {
		return fmt.Errorf("snapshot has negative step %d", snapshot.Step)
	}

	if sys != nil && snapshot.System != "" && snapshot.System != sys.Name() {
		return fmt.Errorf("snapshot belongs to system %q, not %q", snapshot.System, sys.Name())
	}

	skinActive := false
	seen := make(map[int]struct{}, len(snapshot.Active))
	for _, id := range snapshot.Active {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate active membrane: %d", id)
		}
		seen[id] = struct{}{}
		if sys == nil {
			continue
		}
		if _, ok := sys.membranes[MembraneID(id)]; !ok {
			return fmt.Errorf("active membrane %d not found in system", id)
		}
		if MembraneID(id) == sys.skin {
			skinActive = true
		}
	}
	if sys != nil && !skinActive {
		return fmt.Errorf("skin membrane %d must be active", sys.skin)
	}

	for key, objs := range snapshot.Multisets {
		id, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("multiset key %q is not a membrane id", key)
		}
		if sys != nil {
			if _, ok := sys.membranes[MembraneID(id)]; !ok {
				return fmt.Errorf("multiset for membrane %d not found in system", id)
			}
		}
		for obj, n := range objs {
			if n <= 0 {
				return fmt.Errorf("membrane %d: multiplicity of %q must be positive, got %d", id, obj, n)
			}
		}
	}

	return nil
}

// RestoreConfiguration rebuilds the configuration captured by a snapshot.
func RestoreConfiguration(snapshot Snapshot, sys *System) (Configuration, error) {
	if err := ValidateSnapshot(snapshot, sys); err != nil {
		return Configuration{}, err
	}

	active := make(map[MembraneID]bool, len(sys.order))
	multisets := make(map[MembraneID]Multiset, len(sys.order))
	for _, id := range sys.order {
		active[id] = false
		multisets[id] = Multiset{}
	}
	for _, id := range snapshot.Active {
		active[MembraneID(id)] = true
	}
	for key, objs := range snapshot.Multisets {
		id, _ := strconv.Atoi(key)
		multisets[MembraneID(id)] = multisetFromConfig(objs)
	}

	return Configuration{multisets: multisets, active: active, step: snapshot.Step}, nil
}

// EncodeSnapshotJSON encodes a snapshot to JSON format.
func EncodeSnapshotJSON(snapshot Snapshot) ([]byte, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshotJSON decodes a snapshot from JSON format.
func DecodeSnapshotJSON(data []byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snapshot, nil
}

// EncodeSnapshotCBOR encodes a snapshot to canonical CBOR: equal snapshots
// always produce identical bytes.
func EncodeSnapshotCBOR(snapshot Snapshot) ([]byte, error) {
	data, err := snapshotEncMode.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshotCBOR decodes a snapshot from CBOR.
func DecodeSnapshotCBOR(data []byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := cbor.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snapshot, nil
}
