package record

// ChangeTopic is the topic every record store change notification carries.
const ChangeTopic = "record-storage-changed"

// Tag is the raw operation tag of a change notification.
type Tag string

const (
	TagAdded        Tag = "added"
	TagModified     Tag = "modified"
	TagRemoved      Tag = "removed"
	TagObservedFull Tag = "observedFull"
)

// Pair is the subject of a modified notification.
type Pair struct {
	Old Record
	New Record
}

// Notification is a raw change notification emitted by the record store.
// Subject is a Record for added/removed/observedFull and a Pair for modified.
type Notification struct {
	Topic   string
	Tag     Tag
	Subject any
}

// Added builds the notification the store emits after adding r.
func Added(r Record) Notification {
	return Notification{Topic: ChangeTopic, Tag: TagAdded, Subject: r}
}

// Modified builds the notification the store emits after replacing old with updated.
func Modified(old, updated Record) Notification {
	return Notification{Topic: ChangeTopic, Tag: TagModified, Subject: Pair{Old: old, New: updated}}
}

// Removed builds the notification the store emits after removing r.
func Removed(r Record) Notification {
	return Notification{Topic: ChangeTopic, Tag: TagRemoved, Subject: r}
}
