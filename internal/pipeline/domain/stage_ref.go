package domain

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// StageRef is the stored form of a stage. Deals store a label directly;
// leads store the id of a lookup record so that ad hoc labels are shared.
type StageRef struct {
	label    string
	id       bson.ObjectID
	indirect bool
}

// DirectStage references a stage by its label.
func DirectStage(label string) StageRef {
	return StageRef{label: strings.TrimSpace(label)}
}

// IndirectStage references a stage by lookup id.
func IndirectStage(id bson.ObjectID) StageRef {
	return StageRef{id: id, indirect: true}
}

// StageRefFromValue interprets a raw decoded "stage" field. Legacy records
// hold the lookup id as a hex string, which is treated as indirect.
func StageRefFromValue(v any) StageRef {
	switch typed := v.(type) {
	case bson.ObjectID:
		return IndirectStage(typed)
	case *bson.ObjectID:
		if typed != nil {
			return IndirectStage(*typed)
		}
	case string:
		if id, err := bson.ObjectIDFromHex(strings.TrimSpace(typed)); err == nil {
			return IndirectStage(id)
		}
		return DirectStage(typed)
	}
	return StageRef{}
}

func (r StageRef) IsIndirect() bool { return r.indirect }

// IsZero reports a missing stage; such entities are implicitly New.
func (r StageRef) IsZero() bool { return !r.indirect && r.label == "" }

func (r StageRef) Label() string     { return r.label }
func (r StageRef) ID() bson.ObjectID { return r.id }

// Value returns the representation persisted in the "stage" field.
func (r StageRef) Value() any {
	if r.indirect {
		return r.id
	}
	return r.label
}

func (r StageRef) String() string {
	if r.indirect {
		return "lookup:" + r.id.Hex()
	}
	return r.label
}
