package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"peer_chat/internal/domain"
	apperrors "peer_chat/pkg/errors"
	"peer_chat/pkg/logger"
)

const (
	sequenceKey      = "seq:chat_messages"
	sequenceBandwith = 128
	pairLockStripes  = 64
)

// BadgerChatRepository stores messages in an embedded BadgerDB.
//
// Layout:
//
//	msg:{pair}:{id:020d}  -> JSON record, so a prefix scan yields one conversation
//	id:{id:020d}          -> message key, for lookups by id
//	peer:{user}:{peer}    -> empty, the peers a user has exchanged messages with
//	cut:{pair}            -> highest cleared id; records at or below it are gone
//	arc:{pair}            -> highest archived id; records at or below it are archived
//	last:{pair}           -> timestamp of the pair's latest message
//
// Clearing or archiving a pair is one small write to its cutoff key, whatever
// the size of the conversation. Cleared records are purged afterwards.
//
// User ids are length-prefixed inside keys so that no id can make one prefix
// match another user's keys.
type BadgerChatRepository struct {
	db    *badger.DB
	seq   *badger.Sequence
	log   logger.Logger
	clock Clock
	locks [pairLockStripes]sync.Mutex
}

type badgerMessage struct {
	ID          int64  `json:"id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	At          int64  `json:"at"`
	Archived    bool   `json:"archived"`
}

// pairCutoffs are the cleared and archived watermarks of one pair.
type pairCutoffs struct {
	cleared  int64
	archived int64
}

func NewBadgerChatRepository(db *badger.DB, log logger.Logger) (*BadgerChatRepository, error) {
	return NewBadgerChatRepositoryWithClock(db, log, systemClock)
}

func NewBadgerChatRepositoryWithClock(db *badger.DB, log logger.Logger, clock Clock) (*BadgerChatRepository, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwith)
	if err != nil {
		return nil, fmt.Errorf("failed to open message sequence: %w", err)
	}
	return &BadgerChatRepository{db: db, seq: seq, log: log, clock: clock}, nil
}

// Close releases the leased id range. The database itself is owned by the caller.
func (r *BadgerChatRepository) Close() error {
	return r.seq.Release()
}

func (r *BadgerChatRepository) Append(ctx context.Context, senderID, recipientID, content string) (*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := r.lockPair(senderID, recipientID)
	defer unlock()

	next, err := r.seq.Next()
	if err != nil {
		r.log.Error("Failed to allocate message id", "error", err)
		return nil, storageError(err)
	}

	message := &domain.ChatMessage{
		ID:          int64(next) + 1,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
	}

	key := messageKey(senderID, recipientID, message.ID)
	err = r.db.Update(func(txn *badger.Txn) error {
		last, err := readInt(txn, lastKey(senderID, recipientID))
		if err != nil {
			return err
		}
		message.Timestamp = notBefore(r.clock(), time.Unix(0, last).UTC())

		value, err := json.Marshal(fromDomainMessage(message))
		if err != nil {
			return err
		}
		if err := txn.Set(key, value); err != nil {
			return err
		}
		if err := txn.Set(idKey(message.ID), key); err != nil {
			return err
		}
		if err := txn.Set(lastKey(senderID, recipientID), encodeInt(message.Timestamp.UnixNano())); err != nil {
			return err
		}
		if err := txn.Set(peerKey(senderID, recipientID), nil); err != nil {
			return err
		}
		return txn.Set(peerKey(recipientID, senderID), nil)
	})
	if err != nil {
		r.log.Error("Failed to append message", "error", err, "sender_id", senderID, "recipient_id", recipientID)
		return nil, storageError(err)
	}

	return message, nil
}

func (r *BadgerChatRepository) MessagesBetween(ctx context.Context, userA, userB string) ([]*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var messages []*domain.ChatMessage
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		messages, err = scanPair(txn, userA, userB)
		return err
	})
	if err != nil {
		r.log.Error("Failed to get messages between users", "error", err)
		return nil, storageError(err)
	}

	sortMessages(messages)
	return messages, nil
}

func (r *BadgerChatRepository) MessagesInvolving(ctx context.Context, userID string) ([]*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := make([]*domain.ChatMessage, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		for _, peer := range scanPeers(txn, userID) {
			pair, err := scanPair(txn, userID, peer)
			if err != nil {
				return err
			}
			messages = append(messages, pair...)
		}
		return nil
	})
	if err != nil {
		r.log.Error("Failed to get messages for user", "error", err, "user_id", userID)
		return nil, storageError(err)
	}

	sortMessages(messages)
	return messages, nil
}

func (r *BadgerChatRepository) GetByID(ctx context.Context, id int64) (*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var message *domain.ChatMessage
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		message, err = decodeItem(item)
		if err != nil {
			return err
		}
		cutoffs, err := readCutoffs(txn, message.SenderID, message.RecipientID)
		if err != nil {
			return err
		}
		if message.ID <= cutoffs.cleared {
			return badger.ErrKeyNotFound
		}
		message.Archived = message.Archived || message.ID <= cutoffs.archived
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("message %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		r.log.Error("Failed to get message", "error", err, "id", id)
		return nil, storageError(err)
	}
	return message, nil
}

func (r *BadgerChatRepository) DeleteBetween(ctx context.Context, userA, userB string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	unlock := r.lockPair(userA, userB)
	defer unlock()

	var deleted, maxID int64
	err := r.db.Update(func(txn *badger.Txn) error {
		var err error
		deleted, maxID, err = countLive(txn, userA, userB)
		if err != nil {
			return err
		}
		if deleted > 0 {
			if err := txn.Set(cutKey(userA, userB), encodeInt(maxID)); err != nil {
				return err
			}
		}
		if err := txn.Delete(lastKey(userA, userB)); err != nil {
			return err
		}
		if err := txn.Delete(peerKey(userA, userB)); err != nil {
			return err
		}
		return txn.Delete(peerKey(userB, userA))
	})
	if err != nil {
		r.log.Error("Failed to delete conversation", "error", err)
		return 0, storageError(err)
	}

	if deleted > 0 {
		r.purge(userA, userB, maxID)
	}
	return deleted, nil
}

func (r *BadgerChatRepository) ArchiveBetween(ctx context.Context, userA, userB string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	unlock := r.lockPair(userA, userB)
	defer unlock()

	var archived int64
	err := r.db.Update(func(txn *badger.Txn) error {
		var (
			maxID int64
			err   error
		)
		archived, maxID, err = countLive(txn, userA, userB)
		if err != nil || archived == 0 {
			return err
		}
		return txn.Set(arcKey(userA, userB), encodeInt(maxID))
	})
	if err != nil {
		r.log.Error("Failed to archive conversation", "error", err)
		return 0, storageError(err)
	}
	return archived, nil
}

func (r *BadgerChatRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.db.IsClosed() {
		return fmt.Errorf("%w: badger database is closed", apperrors.ErrStorageUnavailable)
	}
	return nil
}

// lockPair serializes mutations on one conversation. Badger's own conflict
// detection does not cover keys inserted after a scan, so the peer index could
// otherwise disagree with the messages it points to.
func (r *BadgerChatRepository) lockPair(userA, userB string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(domain.PairKey(userA, userB)))
	mu := &r.locks[h.Sum32()%pairLockStripes]
	mu.Lock()
	return mu.Unlock
}

// purge removes records hidden by a clear. WriteBatch splits the work into as
// many transactions as needed; a failure only leaves unreachable records behind.
func (r *BadgerChatRepository) purge(userA, userB string, upTo int64) {
	wb := r.db.NewWriteBatch()
	defer wb.Cancel()

	prefix := pairPrefix(userA, userB)
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			id, err := idFromKey(key)
			if err != nil {
				return err
			}
			if id > upTo {
				break
			}
			if err := wb.Delete(key); err != nil {
				return err
			}
			if err := wb.Delete(idKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		err = wb.Flush()
	}
	if err != nil {
		r.log.Warn("Failed to purge cleared messages", "error", err, "up_to", upTo)
	}
}

func scanPeers(txn *badger.Txn, userID string) []string {
	prefix := peerPrefix(userID)
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()

	var peers []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		peers = append(peers, string(it.Item().Key()[len(prefix):]))
	}
	return peers
}

func scanPair(txn *badger.Txn, userA, userB string) ([]*domain.ChatMessage, error) {
	cutoffs, err := readCutoffs(txn, userA, userB)
	if err != nil {
		return nil, err
	}

	prefix := pairPrefix(userA, userB)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	messages := make([]*domain.ChatMessage, 0)
	for it.Seek(messageKey(userA, userB, cutoffs.cleared+1)); it.ValidForPrefix(prefix); it.Next() {
		message, err := decodeItem(it.Item())
		if err != nil {
			return nil, err
		}
		message.Archived = message.Archived || message.ID <= cutoffs.archived
		messages = append(messages, message)
	}
	return messages, nil
}

// countLive counts the pair's visible messages from keys alone and returns the
// highest visible id.
func countLive(txn *badger.Txn, userA, userB string) (int64, int64, error) {
	cleared, err := readInt(txn, cutKey(userA, userB))
	if err != nil {
		return 0, 0, err
	}

	prefix := pairPrefix(userA, userB)
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()

	var count, maxID int64
	for it.Seek(messageKey(userA, userB, cleared+1)); it.ValidForPrefix(prefix); it.Next() {
		id, err := idFromKey(it.Item().Key())
		if err != nil {
			return 0, 0, err
		}
		count++
		maxID = id
	}
	return count, maxID, nil
}

func readCutoffs(txn *badger.Txn, userA, userB string) (pairCutoffs, error) {
	cleared, err := readInt(txn, cutKey(userA, userB))
	if err != nil {
		return pairCutoffs{}, err
	}
	archived, err := readInt(txn, arcKey(userA, userB))
	if err != nil {
		return pairCutoffs{}, err
	}
	return pairCutoffs{cleared: cleared, archived: archived}, nil
}

// readInt returns 0 for a missing key.
func readInt(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var value int64
	err = item.Value(func(raw []byte) error {
		if len(raw) != 8 {
			return fmt.Errorf("corrupt counter at %q", key)
		}
		value = int64(binary.BigEndian.Uint64(raw))
		return nil
	})
	return value, err
}

func encodeInt(value int64) []byte {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(value))
	return raw
}

func decodeItem(item *badger.Item) (*domain.ChatMessage, error) {
	var record badgerMessage
	err := item.Value(func(value []byte) error {
		return json.Unmarshal(value, &record)
	})
	if err != nil {
		return nil, err
	}
	return toDomainMessage(record), nil
}

func encodeUser(userID string) string {
	return fmt.Sprintf("%d:%s", len(userID), userID)
}

func pairPrefix(userA, userB string) []byte {
	if userA > userB {
		userA, userB = userB, userA
	}
	return []byte("msg:" + encodeUser(userA) + ":" + encodeUser(userB) + ":")
}

func messageKey(userA, userB string, id int64) []byte {
	return append(pairPrefix(userA, userB), []byte(fmt.Sprintf("%020d", id))...)
}

func idFromKey(key []byte) (int64, error) {
	if len(key) < 20 {
		return 0, fmt.Errorf("malformed message key %q", key)
	}
	return strconv.ParseInt(string(key[len(key)-20:]), 10, 64)
}

func pairKeyWith(kind, userA, userB string) []byte {
	if userA > userB {
		userA, userB = userB, userA
	}
	return []byte(kind + ":" + encodeUser(userA) + ":" + encodeUser(userB))
}

func cutKey(userA, userB string) []byte  { return pairKeyWith("cut", userA, userB) }
func arcKey(userA, userB string) []byte  { return pairKeyWith("arc", userA, userB) }
func lastKey(userA, userB string) []byte { return pairKeyWith("last", userA, userB) }

func idKey(id int64) []byte {
	return []byte(fmt.Sprintf("id:%020d", id))
}

func peerPrefix(userID string) []byte {
	return []byte("peer:" + encodeUser(userID) + ":")
}

func peerKey(userID, peerID string) []byte {
	return append(peerPrefix(userID), []byte(peerID)...)
}

func fromDomainMessage(m *domain.ChatMessage) badgerMessage {
	return badgerMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		At:          m.Timestamp.UnixNano(),
		Archived:    m.Archived,
	}
}

func toDomainMessage(record badgerMessage) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:          record.ID,
		SenderID:    record.SenderID,
		RecipientID: record.RecipientID,
		Content:     record.Content,
		Timestamp:   time.Unix(0, record.At).UTC(),
		Archived:    record.Archived,
	}
}
