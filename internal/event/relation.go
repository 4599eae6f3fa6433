package event

import "fmt"

// Content field names carrying event references.
const (
	FieldRelatesTo = "m.relates_to"
	FieldInReplyTo = "m.in_reply_to"
	FieldEventID   = "event_id"
	FieldRedacts   = "redacts"
)

// RelationKind discriminates the result of extracting a reference from
// content.
type RelationKind int

const (
	// RelationNone means the field is absent; there is nothing to index.
	RelationNone RelationKind = iota
	// RelationRef carries a syntactically valid event id.
	RelationRef
	// RelationMalformed means the field is present but unusable.
	RelationMalformed
)

func (k RelationKind) String() string {
	switch k {
	case RelationNone:
		return "none"
	case RelationRef:
		return "ref"
	case RelationMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("RelationKind(%d)", int(k))
	}
}

// Relation is a reference extracted from an event. EventID is set only for
// RelationRef; Reason only for RelationMalformed.
type Relation struct {
	Kind    RelationKind
	EventID string
	Reason  string
}

func noRelation() Relation { return Relation{Kind: RelationNone} }

func refRelation(id string) Relation { return Relation{Kind: RelationRef, EventID: id} }

func malformed(format string, args ...any) Relation {
	return Relation{Kind: RelationMalformed, Reason: fmt.Sprintf(format, args...)}
}

// RelatesTo extracts content["m.relates_to"].event_id. A missing or
// non-object relation field, or a relation without an event_id or with an
// empty one, is RelationNone; any other event_id that is not a valid event
// id is malformed.
func (e *Event) RelatesTo() Relation {
	rel, ok := e.View().Object(FieldRelatesTo)
	if !ok {
		return noRelation()
	}
	v, ok := rel.Member(FieldEventID)
	if !ok {
		return noRelation()
	}
	id := v.String()
	if id == "" {
		return noRelation()
	}
	if !ValidEventID(id) {
		return malformed("%q is not an event id", id)
	}
	return refRelation(id)
}

// InReplyTo extracts content["m.relates_to"]["m.in_reply_to"].event_id.
// A nested reply field that is not an object, or that lacks a valid
// event_id, is malformed.
func (e *Event) InReplyTo() Relation {
	rel, ok := e.View().Object(FieldRelatesTo)
	if !ok {
		return noRelation()
	}
	v, ok := rel.Member(FieldInReplyTo)
	if !ok {
		return noRelation()
	}
	if !v.IsObject() {
		return malformed("%s is not an object", FieldInReplyTo)
	}
	reply := Content{res: v}
	id, _ := reply.String(FieldEventID)
	if !ValidEventID(id) {
		return malformed("%q is not an event id", id)
	}
	return refRelation(id)
}

// RedactsID extracts the redaction target: the top-level redacts field, or
// content.redacts when the top-level field is absent.
func (e *Event) RedactsID() Relation {
	id := e.Redacts
	if id == "" {
		v, ok := e.View().Member(FieldRedacts)
		if !ok {
			return noRelation()
		}
		id = v.String()
	}
	if !ValidEventID(id) {
		return malformed("redacts %q is not an event id", id)
	}
	return refRelation(id)
}

// ReceiptTarget extracts content.event_id from a read receipt.
func (e *Event) ReceiptTarget() Relation {
	v, ok := e.View().Member(FieldEventID)
	if !ok {
		return noRelation()
	}
	id := v.String()
	if !ValidEventID(id) {
		return malformed("receipt target %q is not an event id", id)
	}
	return refRelation(id)
}
