package livechat

// ShouldAppend reports whether a server-delivered message is new to the store.
// Locally submitted messages bypass the gate: their temporary ids are unique.
func ShouldAppend(incoming Message, store *Store) bool {
	_, exists := store.Find(incoming.ID)
	return !exists
}
