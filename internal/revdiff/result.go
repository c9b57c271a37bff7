// Package revdiff compares two snapshots extracted from the same file.
//
// A comparison has two parts: the change in the snapshot's dt_keys and a
// structural delta whose shape depends on the snapshot kind.
package revdiff

import (
	"fmt"

	"github.com/Benny93/twinscope/internal/graph"
)

// Result is the outcome of comparing an old and a new snapshot.
type Result struct {
	FileObjectID         int64      `json:"file_object_id"`
	Kind                 string     `json:"kind"`
	OldExtractedObjectID int64      `json:"old_extracted_object_id"`
	NewExtractedObjectID int64      `json:"new_extracted_object_id"`
	DTKeyAdded           []string   `json:"dt_key_added"`
	DTKeyRemoved         []string   `json:"dt_key_removed"`
	DTKeyUnchanged       []string   `json:"dt_key_unchanged"`
	Structural           Structural `json:"structural"`
	Summary              string     `json:"summary"`
}

// Structural is the kind-specific part of a diff. At most one of the
// embedded deltas is set; a kind mismatch sets none of them.
type Structural struct {
	KindMismatch *KindMismatch `json:"kind_mismatch,omitempty"`
	*KiCadDelta
	*FreeCADDelta
	*HashDelta
}

// KindMismatch records the kinds of two snapshots that cannot be compared.
type KindMismatch struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// KiCadDelta compares the component references and net names of two
// kicad_ecad snapshots.
type KiCadDelta struct {
	ComponentsAdded   []string `json:"components_added"`
	ComponentsRemoved []string `json:"components_removed"`
	NetsAdded         []string `json:"nets_added"`
	NetsRemoved       []string `json:"nets_removed"`
}

// FreeCADDelta compares the slash-joined feature tree paths of two
// freecad_tree snapshots.
type FreeCADDelta struct {
	TreeNodesAdded   []string `json:"tree_nodes_added"`
	TreeNodesRemoved []string `json:"tree_nodes_removed"`
}

// HashDelta compares content hashes for kinds without a dedicated diff.
type HashDelta struct {
	DataHashOld string `json:"data_hash_old"`
	DataHashNew string `json:"data_hash_new"`
	HashChanged bool   `json:"hash_changed"`
}

// IsEmpty reports whether no structural information was produced.
func (s Structural) IsEmpty() bool {
	return s.KindMismatch == nil && s.KiCadDelta == nil && s.FreeCADDelta == nil && s.HashDelta == nil
}

// Changed reports whether the structural section signals a change.
// An explicit hash comparison decides on its own; otherwise a kind
// mismatch or any non-empty added or removed entry counts.
func (s Structural) Changed() bool {
	switch {
	case s.IsEmpty():
		return false
	case s.HashDelta != nil:
		return s.HashChanged
	case s.KindMismatch != nil:
		return true
	case s.KiCadDelta != nil:
		return anySet(s.ComponentsAdded, s.ComponentsRemoved, s.NetsAdded, s.NetsRemoved)
	case s.FreeCADDelta != nil:
		return anySet(s.TreeNodesAdded, s.TreeNodesRemoved)
	}
	return false
}

// Summary renders the structural section as a short phrase.
func (s Structural) Summary() string {
	switch {
	case s.IsEmpty():
		return "no change"
	case s.KindMismatch != nil:
		return "kind mismatch"
	case s.HashDelta != nil:
		if s.HashChanged {
			return "hash changed"
		}
		return "hash unchanged"
	case s.KiCadDelta != nil:
		added := len(s.ComponentsAdded) + len(s.NetsAdded)
		removed := len(s.ComponentsRemoved) + len(s.NetsRemoved)
		return fmt.Sprintf("kicad Δ +%d/-%d", added, removed)
	case s.FreeCADDelta != nil:
		return fmt.Sprintf("freecad Δ +%d/-%d", len(s.TreeNodesAdded), len(s.TreeNodesRemoved))
	}
	return "structural diff"
}

func anySet(lists ...[]string) bool {
	for _, list := range lists {
		for _, v := range list {
			if graph.Truthy(v) {
				return true
			}
		}
	}
	return false
}
