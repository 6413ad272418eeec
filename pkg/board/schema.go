package board

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by deployment namespace so
// several dashboards can share one Redis server without interference.
//
// Key pattern: boardsync:{namespace}:board:{board_id}:{entity}
// Channel pattern: boardsync:{namespace}:board:{board_id}:{event_type}

// DocumentKey returns the Redis key for a board's persisted document hash.
// Pattern: boardsync:{namespace}:board:{board_id}:document
func DocumentKey(namespace, boardID string) string {
	return fmt.Sprintf("boardsync:%s:board:%s:document", namespace, boardID)
}

// ParticipantsKey returns the Redis key for the room membership hash.
// Hash fields are participant IDs, values are Collaborator JSON.
// Pattern: boardsync:{namespace}:board:{board_id}:participants
func ParticipantsKey(namespace, boardID string) string {
	return fmt.Sprintf("boardsync:%s:board:%s:participants", namespace, boardID)
}

// RoomElementsKey returns the Redis key for the room's cached element set,
// used to seed late joiners.
// Pattern: boardsync:{namespace}:board:{board_id}:room_elements
func RoomElementsKey(namespace, boardID string) string {
	return fmt.Sprintf("boardsync:%s:board:%s:room_elements", namespace, boardID)
}

// RoomChannel returns the Pub/Sub channel carrying room messages.
// Pattern: boardsync:{namespace}:board:{board_id}:room_events
func RoomChannel(namespace, boardID string) string {
	return fmt.Sprintf("boardsync:%s:board:%s:room_events", namespace, boardID)
}

// SavesChannel returns the Pub/Sub channel carrying save notices.
// Pattern: boardsync:{namespace}:board:{board_id}:save_events
func SavesChannel(namespace, boardID string) string {
	return fmt.Sprintf("boardsync:%s:board:%s:save_events", namespace, boardID)
}
