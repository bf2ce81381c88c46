// Package protocol encodes and decodes the websocket wire messages.
//
// Three message shapes exist: the JSON full-state Snapshot sent to a client on
// connect, the textual Toggle command sent by clients ("checkbox:<i>:<state>"),
// and the textual Change notification fanned out to other clients
// ("Checkbox updated: <i>:<state>"). Decoding is closed over these variants.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mrtnsch/checkboxes/internal/domain"
)

const (
	togglePrefix = "checkbox:"
	changePrefix = "Checkbox updated: "
)

// Message is one of Snapshot, Toggle or Change.
type Message interface {
	isMessage()
}

// Snapshot is the full-state message. TrueIndices and FalseIndices partition [0, N).
type Snapshot struct {
	TrueIndices  []int `json:"true_indices"`
	FalseIndices []int `json:"false_indices"`
	IsInitial    bool  `json:"is_initial"`
}

// Toggle is a client's request to set one checkbox.
type Toggle struct {
	Index   int
	Checked bool
}

// Change reports one accepted toggle to the other clients.
type Change struct {
	Index   int
	Checked bool
}

func (Snapshot) isMessage() {}
func (Toggle) isMessage()   {}
func (Change) isMessage()   {}

// NewSnapshot wraps a domain snapshot for the wire.
func NewSnapshot(s domain.Snapshot, initial bool) Snapshot {
	msg := Snapshot{TrueIndices: s.TrueIndices, FalseIndices: s.FalseIndices, IsInitial: initial}
	if msg.TrueIndices == nil {
		msg.TrueIndices = []int{}
	}
	if msg.FalseIndices == nil {
		msg.FalseIndices = []int{}
	}
	return msg
}

// Encode serializes a message into its wire form.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Snapshot:
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot: %w", err)
		}
		return data, nil
	case Toggle:
		return []byte(togglePrefix + formatState(m.Index, m.Checked)), nil
	case Change:
		return []byte(changePrefix + formatState(m.Index, m.Checked)), nil
	default:
		return nil, fmt.Errorf("unknown message type %T", msg)
	}
}

// Decode parses any of the three message shapes. Frames that match none of
// them fail with domain.ErrMalformedFrame.
func Decode(data []byte) (Message, error) {
	switch {
	case bytes.HasPrefix(data, []byte(togglePrefix)):
		return DecodeToggle(data)
	case bytes.HasPrefix(data, []byte(changePrefix)):
		index, checked, err := parseState(string(data[len(changePrefix):]))
		if err != nil {
			return nil, err
		}
		return Change{Index: index, Checked: checked}, nil
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")):
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrMalformedFrame, err)
		}
		if snap.TrueIndices == nil || snap.FalseIndices == nil {
			return nil, fmt.Errorf("%w: snapshot missing index lists", domain.ErrMalformedFrame)
		}
		return snap, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized frame", domain.ErrMalformedFrame)
	}
}

// DecodeToggle parses the only message clients are allowed to send. A
// numeric index too large to represent fails with domain.ErrOutOfRange.
func DecodeToggle(data []byte) (Toggle, error) {
	rest, ok := strings.CutPrefix(string(data), togglePrefix)
	if !ok {
		return Toggle{}, fmt.Errorf("%w: missing %q prefix", domain.ErrMalformedFrame, togglePrefix)
	}
	index, checked, err := parseState(rest)
	if err != nil {
		return Toggle{}, err
	}
	return Toggle{Index: index, Checked: checked}, nil
}

func parseState(s string) (int, bool, error) {
	rawIndex, rawState, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false, fmt.Errorf("%w: missing separator", domain.ErrMalformedFrame)
	}
	var checked bool
	switch rawState {
	case "true":
		checked = true
	case "false":
		checked = false
	default:
		return 0, false, fmt.Errorf("%w: bad state %q", domain.ErrMalformedFrame, rawState)
	}
	index, err := strconv.ParseUint(rawIndex, 10, 64)
	if errors.Is(err, strconv.ErrRange) || (err == nil && index > math.MaxInt) {
		return 0, false, fmt.Errorf("%w: index %s", domain.ErrOutOfRange, rawIndex)
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: bad index %q", domain.ErrMalformedFrame, rawIndex)
	}
	return int(index), checked, nil
}

func formatState(index int, checked bool) string {
	return strconv.Itoa(index) + ":" + strconv.FormatBool(checked)
}
