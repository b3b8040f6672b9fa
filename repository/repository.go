package repository

import (
	"context"
	"encoding/json"

	"tangle-node/db"
	"tangle-node/models"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// ErrNotFound is the normal "none" outcome of Fetch
var ErrNotFound = errors.New("message not found")

// Key prefixes
var (
	prefixMessage  = []byte("m:") // m:<id> -> message JSON, body zstd-compressed
	prefixMetadata = []byte("d:") // d:<id> -> metadata JSON
	prefixChildren = []byte("c:") // c:<parent><child> -> nil
)

// StorageBackend abstracts the durable store beneath the in-memory tangle
type StorageBackend interface {
	Fetch(ctx context.Context, id models.MessageID) (*models.Message, *models.Metadata, error)
	Insert(ctx context.Context, id models.MessageID, msg *models.Message, meta *models.Metadata) error
	Delete(ctx context.Context, id models.MessageID) error
	FetchChildren(ctx context.Context, id models.MessageID) ([]models.MessageID, error)
}

// MessageRepository implements StorageBackend on top of any db.KVStore
type MessageRepository struct {
	db  db.KVStore
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// storedMessage is the on-disk form of a message
type storedMessage struct {
	Parents   []models.MessageID       `json:"parents"`
	Body      []byte                   `json:"body"` // zstd frame
	Milestone *models.MilestonePayload `json:"milestone,omitempty"`
}

// NewMessageRepository creates and returns a new MessageRepository instance
func NewMessageRepository(store db.KVStore) (*MessageRepository, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &MessageRepository{db: store, enc: enc, dec: dec}, nil
}

// Insert stores message, metadata and the children index entries of all its parents.
// msg may be nil to update metadata only.
func (r *MessageRepository) Insert(ctx context.Context, id models.MessageID, msg *models.Message, meta *models.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg != nil {
		data, err := json.Marshal(storedMessage{
			Parents:   msg.Parents,
			Body:      r.enc.EncodeAll(msg.Body, nil),
			Milestone: msg.Milestone,
		})
		if err != nil {
			return err
		}
		if err = r.db.Put(key(prefixMessage, id), data); err != nil {
			return errors.Wrapf(err, "put message %s", id.Short())
		}
		for _, parent := range msg.Parents {
			if err = r.db.Put(childKey(parent, id), nil); err != nil {
				return errors.Wrapf(err, "put child %s of %s", id.Short(), parent.Short())
			}
		}
	}
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err = r.db.Put(key(prefixMetadata, id), data); err != nil {
			return errors.Wrapf(err, "put metadata %s", id.Short())
		}
	}
	return nil
}

// Fetch retrieves message and metadata. Metadata may be nil if it was never written.
func (r *MessageRepository) Fetch(ctx context.Context, id models.MessageID) (*models.Message, *models.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	data, err := r.db.Get(key(prefixMessage, id))
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "get message %s", id.Short())
	}
	var stored storedMessage
	if err = json.Unmarshal(data, &stored); err != nil {
		return nil, nil, errors.Wrapf(err, "decode message %s", id.Short())
	}
	body, err := r.dec.DecodeAll(stored.Body, nil)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decompress body of %s", id.Short())
	}
	msg := &models.Message{
		ID:        id,
		Parents:   stored.Parents,
		Body:      body,
		Milestone: stored.Milestone,
	}

	data, err = r.db.Get(key(prefixMetadata, id))
	if errors.Is(err, db.ErrNotFound) {
		return msg, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "get metadata %s", id.Short())
	}
	var meta models.Metadata
	if err = json.Unmarshal(data, &meta); err != nil {
		return nil, nil, errors.Wrapf(err, "decode metadata %s", id.Short())
	}
	return msg, &meta, nil
}

// Delete removes message and metadata. Children index entries pointing at the
// message stay: they are still valid relations.
func (r *MessageRepository) Delete(ctx context.Context, id models.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.db.Delete(key(prefixMessage, id)); err != nil {
		return err
	}
	return r.db.Delete(key(prefixMetadata, id))
}

func (r *MessageRepository) FetchChildren(ctx context.Context, id models.MessageID) ([]models.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ret := make([]models.MessageID, 0)
	prefix := key(prefixChildren, id)
	err := r.db.IteratePrefix(prefix, func(k, _ []byte) error {
		if len(k) != len(prefix)+models.MessageIDLength {
			return errors.Errorf("malformed children key %x", k)
		}
		var child models.MessageID
		copy(child[:], k[len(prefix):])
		ret = append(ret, child)
		return nil
	})
	return ret, err
}

func key(prefix []byte, id models.MessageID) []byte {
	ret := make([]byte, len(prefix)+models.MessageIDLength)
	copy(ret, prefix)
	copy(ret[len(prefix):], id[:])
	return ret
}

func childKey(parent, child models.MessageID) []byte {
	ret := make([]byte, len(prefixChildren)+2*models.MessageIDLength)
	copy(ret, prefixChildren)
	copy(ret[len(prefixChildren):], parent[:])
	copy(ret[len(prefixChildren)+models.MessageIDLength:], child[:])
	return ret
}
