package models

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

const (
	// MessageIDLength is the size of a message identifier in bytes
	MessageIDLength = 32
	// MaxParents bounds the parent list. Only genesis has none.
	MaxParents = 8
)

var (
	ErrTooManyParents   = errors.New("message references too many parents")
	ErrDuplicateParent  = errors.New("message references the same parent twice")
	ErrInvalidMessageID = errors.New("invalid message id")
	ErrIDMismatch       = errors.New("message id does not match its content")
)

// MessageID is the blake3 hash of the canonical message encoding
type MessageID [MessageIDLength]byte

// MilestoneIndex is the strictly increasing index of a checkpoint message. Zero means "none".
type MilestoneIndex uint32

func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters, for logs
func (id MessageID) Short() string {
	return hex.EncodeToString(id[:4])
}

func (id MessageID) IsZero() bool {
	return id == MessageID{}
}

func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := MessageIDFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MessageIDFromHex parses the hex form produced by MessageID.String
func MessageIDFromHex(s string) (MessageID, error) {
	var ret MessageID
	b, err := hex.DecodeString(s)
	if err != nil {
		return ret, errors.Wrapf(ErrInvalidMessageID, "%q: %v", s, err)
	}
	if len(b) != MessageIDLength {
		return ret, errors.Wrapf(ErrInvalidMessageID, "%q: expected %d bytes, got %d", s, MessageIDLength, len(b))
	}
	copy(ret[:], b)
	return ret, nil
}

// MilestonePayload marks a message as a checkpoint
type MilestonePayload struct {
	Index MilestoneIndex `json:"index"`
}

// Message is the immutable payload of a DAG vertex. It is created once, by the validation
// layer or by NewMessage/NewMilestone, and shared by pointer afterwards.
type Message struct {
	ID        MessageID         `json:"id"`
	Parents   []MessageID       `json:"parents"`
	Body      []byte            `json:"body"`
	Milestone *MilestonePayload `json:"milestone,omitempty"`
}

func NewMessage(parents []MessageID, body []byte) *Message {
	return newMessage(parents, body, nil)
}

func NewMilestone(index MilestoneIndex, parents []MessageID, body []byte) *Message {
	return newMessage(parents, body, &MilestonePayload{Index: index})
}

func newMessage(parents []MessageID, body []byte, ms *MilestonePayload) *Message {
	ret := &Message{
		Parents:   append([]MessageID(nil), parents...),
		Body:      append([]byte(nil), body...),
		Milestone: ms,
	}
	ret.ID = ret.ComputeID()
	return ret
}

// ComputeID hashes parents, milestone index and body in that order
func (m *Message) ComputeID() MessageID {
	h := blake3.New()
	var buf [4]byte
	buf[0] = byte(len(m.Parents))
	_, _ = h.Write(buf[:1])
	for i := range m.Parents {
		_, _ = h.Write(m.Parents[i][:])
	}
	binary.BigEndian.PutUint32(buf[:], uint32(m.MilestoneIndex()))
	_, _ = h.Write(buf[:])
	_, _ = h.Write(m.Body)

	var ret MessageID
	copy(ret[:], h.Sum(nil))
	return ret
}

func (m *Message) IsMilestone() bool {
	return m.Milestone != nil
}

func (m *Message) IsGenesis() bool {
	return len(m.Parents) == 0
}

// MilestoneIndex returns 0 for ordinary messages
func (m *Message) MilestoneIndex() MilestoneIndex {
	if m.Milestone == nil {
		return 0
	}
	return m.Milestone.Index
}

// Validate checks the shape of the message only. Signatures, PoW and cycle detection
// are the business of the validation layer.
func (m *Message) Validate() error {
	if len(m.Parents) > MaxParents {
		return errors.Wrapf(ErrTooManyParents, "%s: %d parents", m.ID.Short(), len(m.Parents))
	}
	for i := range m.Parents {
		for j := i + 1; j < len(m.Parents); j++ {
			if m.Parents[i] == m.Parents[j] {
				return errors.Wrapf(ErrDuplicateParent, "%s: parent %s", m.ID.Short(), m.Parents[i].Short())
			}
		}
	}
	if m.Milestone != nil && m.Milestone.Index == 0 {
		return errors.Errorf("milestone %s carries index 0", m.ID.Short())
	}
	if m.ComputeID() != m.ID {
		return errors.Wrapf(ErrIDMismatch, "%s", m.ID.Short())
	}
	return nil
}
