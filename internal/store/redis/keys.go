package redis

import "fmt"

const (
	// KeyPrefixQueue is the prefix for every per-queue key
	KeyPrefixQueue = "jukebox:queue:"
	// KeyPrefixVideoCache is the prefix for cached video metadata
	KeyPrefixVideoCache = "jukebox:video:"
	// KeyAllQueues is the set of every queue id ever created
	KeyAllQueues = "jukebox:queues:all"
)

// Slot names one mirrored collection of a queue.
type Slot string

const (
	SlotMeta    Slot = "meta"
	SlotQueue   Slot = "queue"
	SlotCurrent Slot = "current"
	SlotHistory Slot = "history"
)

// MetaKey holds {name, createdAt} as a hash.
func MetaKey(queueID string) string {
	return KeyPrefixQueue + queueID + ":meta"
}

// ItemsKey holds pending entries as a hash of pushID -> entry JSON.
func ItemsKey(queueID string) string {
	return KeyPrefixQueue + queueID + ":items"
}

// SeqKey is the counter that hands out push ids.
func SeqKey(queueID string) string {
	return KeyPrefixQueue + queueID + ":seq"
}

// CurrentKey holds the playing entry JSON; absent means nothing plays.
func CurrentKey(queueID string) string {
	return KeyPrefixQueue + queueID + ":current"
}

// HistoryKey holds played entries as a hash of entryID -> entry JSON.
func HistoryKey(queueID string) string {
	return KeyPrefixQueue + queueID + ":history"
}

// ChannelKey is the pub/sub channel announcing changes to one slot.
func ChannelKey(queueID string, slot Slot) string {
	return KeyPrefixQueue + queueID + ":events:" + string(slot)
}

// VideoCacheKey holds resolved metadata for a video ref.
func VideoCacheKey(videoRef string) string {
	return KeyPrefixVideoCache + videoRef
}

// AllQueuesKey returns the key for the set of all queue ids
func AllQueuesKey() string {
	return KeyAllQueues
}

// PushID formats a sequence number so that lexical order is insertion order.
func PushID(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}
