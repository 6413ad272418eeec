// Package board provides the shared data model, wire protocol and Redis schema
// for collaborative whiteboard sessions.
//
// # Overview
//
// A board is a shared drawing surface edited concurrently by several
// participants. Its state is a list of elements: opaque drawing primitives of
// which only three attributes are interpreted here. ID is stable across edits,
// Version is bumped by the drawing surface on every mutation, and IsDeleted
// marks a tombstone so deletions travel through the system like any other
// edit. Everything else about an element (geometry, style, text) is preserved
// byte-for-byte through JSON round trips.
//
// # Wire Protocol
//
// Participants exchange JSON envelopes with a room relay:
//
//	{"type": "elements-change", "payload": {"boardId": "...", "elements": [...], "participantId": "..."}}
//
// Client messages: join, leave, elements-change.
// Server messages: collaborators, user-joined, user-left, elements-update.
//
// # Redis Schema
//
// All Redis keys follow the pattern: boardsync:{namespace}:board:{board_id}:{entity}
//
// Document: boardsync:{namespace}:board:{board_id}:document
// Participants: boardsync:{namespace}:board:{board_id}:participants
// Room element cache: boardsync:{namespace}:board:{board_id}:room_elements
//
// Pub/Sub channels:
//
// Room messages: boardsync:{namespace}:board:{board_id}:room_events
// Save notices: boardsync:{namespace}:board:{board_id}:save_events
//
// # Usage Example
//
//	client, err := board.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	doc, err := board.ParseDocument(raw)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := client.SaveDocument(ctx, "board-42", doc, time.Now()); err != nil {
//		log.Fatal(err)
//	}
package board
