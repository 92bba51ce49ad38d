package types

import "github.com/google/uuid"

// ModelType describes a family of facts, typically one file format
// (for example a crash dump), and the object types found inside it.
type ModelType struct {
	ID          uuid.UUID
	Name        string
	ObjectTypes []*ObjectType
}

// ObjectType describes one kind of record inside a model type.
// Equality is by ID; Name is used for display only.
type ObjectType struct {
	ID          uuid.UUID
	ModelTypeID uuid.UUID
	Name        string
}

// TypeRef addresses an object type by its model and object identities.
type TypeRef struct {
	ModelTypeID  uuid.UUID
	ObjectTypeID uuid.UUID
}

// IsZero reports whether either half of the reference is unset.
func (r TypeRef) IsZero() bool {
	return r.ModelTypeID == uuid.Nil || r.ObjectTypeID == uuid.Nil
}

// Ref returns the reference addressing t.
func (t *ObjectType) Ref() TypeRef {
	if t == nil {
		return TypeRef{}
	}
	return TypeRef{ModelTypeID: t.ModelTypeID, ObjectTypeID: t.ID}
}

// DisplayName returns the type name, or the empty string for a nil type.
func (t *ObjectType) DisplayName() string {
	if t == nil {
		return ""
	}
	return t.Name
}

// ObjectType finds an object type of m by id.
func (m *ModelType) ObjectType(id uuid.UUID) (*ObjectType, bool) {
	for _, ot := range m.ObjectTypes {
		if ot.ID == id {
			return ot, true
		}
	}
	return nil, false
}
