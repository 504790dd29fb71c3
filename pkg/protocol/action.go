package protocol

import (
	"fmt"

	"github.com/spop-protocol/spop/pkg/spopbuf"
)

// ActionType identifies an action inside an ACK frame.
type ActionType uint8

const (
	// ActionTypeSetVar sets a variable in one of the engine's scopes.
	// Three positional arguments: scope, name, value.
	ActionTypeSetVar ActionType = 1
	// ActionTypeUnsetVar removes a variable. Two positional arguments:
	// scope, name.
	ActionTypeUnsetVar ActionType = 2
)

const (
	nbArgsSetVar   = 3
	nbArgsUnsetVar = 2
)

// Scope selects the variable scope an action operates on.
type Scope uint8

const (
	ScopeProcess     Scope = 0
	ScopeSession     Scope = 1
	ScopeTransaction Scope = 2
	ScopeRequest     Scope = 3
	ScopeResponse    Scope = 4
)

var scopeNames = map[Scope]string{
	ScopeProcess:     "proc",
	ScopeSession:     "sess",
	ScopeTransaction: "txn",
	ScopeRequest:     "req",
	ScopeResponse:    "res",
}

// String returns the engine-side prefix for s ("proc", "sess", ...).
func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("scope(%d)", uint8(s))
}

func (s Scope) valid() bool {
	_, ok := scopeNames[s]
	return ok
}

// Action is one typed operation carried in an ACK frame. The protocol
// defines a closed action set with fixed positional arguments per type.
//
// Wire layout:
//
//	<ACTION-TYPE:1 byte> <NB-ARGS:1 byte> <ARGS:typed values>
type Action struct {
	Type  ActionType
	Scope Scope
	Name  string
	// Value is the variable value for SET-VAR; nil for UNSET-VAR.
	Value Value
}

// SetVar builds a SET-VAR action.
func SetVar(scope Scope, name string, value Value) Action {
	return Action{Type: ActionTypeSetVar, Scope: scope, Name: name, Value: value}
}

// UnsetVar builds an UNSET-VAR action.
func UnsetVar(scope Scope, name string) Action {
	return Action{Type: ActionTypeUnsetVar, Scope: scope, Name: name}
}

func (a *Action) encode(b *spopbuf.Buffer) {
	switch a.Type {
	case ActionTypeSetVar:
		b.WriteUint8(uint8(ActionTypeSetVar))
		b.WriteUint8(nbArgsSetVar)
		b.WriteUint8(uint8(a.Scope))
		b.WriteString(a.Name)
		a.Value.encode(b)
	case ActionTypeUnsetVar:
		b.WriteUint8(uint8(ActionTypeUnsetVar))
		b.WriteUint8(nbArgsUnsetVar)
		b.WriteUint8(uint8(a.Scope))
		b.WriteString(a.Name)
	}
}

// decodeActions reads actions until the reader is exhausted.
func decodeActions(r *spopbuf.Reader) ([]Action, error) {
	var actions []Action
	for r.Remaining() > 0 {
		a, err := decodeAction(r)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func decodeAction(r *spopbuf.Reader) (Action, error) {
	ty, err := r.ReadUint8()
	if err != nil {
		return Action{}, err
	}
	nbArgs, err := r.ReadUint8()
	if err != nil {
		return Action{}, err
	}
	if t := ActionType(ty); t != ActionTypeSetVar && t != ActionTypeUnsetVar {
		return Action{}, fmt.Errorf("%w: type %d", ErrUnknownAction, ty)
	}

	scopeByte, err := r.ReadUint8()
	if err != nil {
		return Action{}, err
	}
	scope := Scope(scopeByte)
	if !scope.valid() {
		return Action{}, fmt.Errorf("%w: scope %d", ErrUnknownAction, scopeByte)
	}
	name, err := r.ReadString()
	if err != nil {
		return Action{}, err
	}

	switch ActionType(ty) {
	case ActionTypeSetVar:
		if nbArgs != nbArgsSetVar {
			return Action{}, fmt.Errorf("%w: set-var with %d args", ErrUnknownAction, nbArgs)
		}
		value, err := DecodeValue(r)
		if err != nil {
			return Action{}, err
		}
		return SetVar(scope, name, value), nil
	default: // ActionTypeUnsetVar, validated above
		if nbArgs != nbArgsUnsetVar {
			return Action{}, fmt.Errorf("%w: unset-var with %d args", ErrUnknownAction, nbArgs)
		}
		return UnsetVar(scope, name), nil
	}
}
