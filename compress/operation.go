package compress

import (
	"errors"
	"fmt"
)

// Kind tags an Operation.
type Kind string

const (
	KindKeep   Kind = "keep"
	KindDelete Kind = "delete"
	KindModify Kind = "modify"
	KindInsert Kind = "insert"
)

// ErrUnknownKind is returned when decoding an operation with an unrecognized
// kind.
var ErrUnknownKind = errors.New("unknown operation kind")

// ParseKind validates a serialized kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindKeep, KindDelete, KindModify, KindInsert:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Operation is a pending edit attached to a message id or an insertion slot.
//
//   - delete: Original holds the message being removed (kept for statistics).
//   - modify: Text holds the replacement text.
//   - insert: Message holds the synthetic message, AfterIndex its slot
//     (-1 means before the first message).
type Operation struct {
	Kind       Kind
	Original   Message
	Text       string
	Message    Message
	AfterIndex int
}

// Keep is the implicit default operation.
func Keep() Operation {
	return Operation{Kind: KindKeep}
}

// Delete marks original for removal.
func Delete(original Message) Operation {
	return Operation{Kind: KindDelete, Original: original.Clone()}
}

// Modify replaces a message's content with text.
func Modify(text string) Operation {
	return Operation{Kind: KindModify, Text: text}
}

// Insert places a synthetic message after the given index.
func Insert(afterIndex int, msg Message) Operation {
	msg = msg.Clone()
	msg.Synthetic = true
	return Operation{Kind: KindInsert, Message: msg, AfterIndex: afterIndex}
}

// Clone returns a deep copy of op, including any carried messages.
func (op Operation) Clone() Operation {
	out := op
	out.Original = op.Original.Clone()
	out.Message = op.Message.Clone()
	return out
}

func (op Operation) validate() error {
	if _, err := ParseKind(string(op.Kind)); err != nil {
		return err
	}
	return nil
}
