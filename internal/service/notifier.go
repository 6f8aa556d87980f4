package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studychat/studychat-server/internal/logger"
	"github.com/studychat/studychat-server/internal/model"
)

// maxPollMessages bounds one notifier poll; a client that far behind
// should re-fetch history instead.
const maxPollMessages = 100

// EventWriter is one client's end of the event stream. Write errors mean the
// client is gone and terminate the stream loop.
type EventWriter interface {
	WriteEvent(event model.Event) error
	WriteHeartbeat() error
}

// Notifier drives per-connection event streams by polling storage and
// diffing against the connection's baselines. State lives entirely on the
// connection, so any server instance can serve any stream.
type Notifier struct {
	roomStore    model.RoomStore
	messageStore model.MessageStore
	groupStore   model.GroupStore
	logger       *logger.Logger

	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

func NewNotifier(
	roomStore model.RoomStore,
	messageStore model.MessageStore,
	groupStore model.GroupStore,
	logger *logger.Logger,
	pollInterval time.Duration,
	heartbeatInterval time.Duration,
) *Notifier {
	return &Notifier{
		roomStore:         roomStore,
		messageStore:      messageStore,
		groupStore:        groupStore,
		logger:            logger,
		pollInterval:      pollInterval,
		heartbeatInterval: heartbeatInterval,
	}
}

// streamState holds one connection's diff baselines. The sentinel values
// (-1 counts, empty fingerprints) mean "not yet observed" and suppress the
// corresponding event on the first poll.
type streamState struct {
	lastMessageID          int64
	lastRoomCount          int
	lastKeyFingerprint     string
	lastInviteCount        int
	lastSessionFingerprint string
}

// Run streams events to w until ctx is canceled or a write fails. Storage
// errors during a poll are logged and skipped; the stream survives them.
func (n *Notifier) Run(ctx context.Context, userID uuid.UUID, w EventWriter) error {
	if err := w.WriteEvent(model.Event{Type: model.EventConnected}); err != nil {
		return err
	}

	state := &streamState{lastRoomCount: -1, lastInviteCount: -1}

	// Establish the message baseline up front so a fresh connection never
	// replays history; everything else baselines on the first poll.
	if roomIDs, err := n.roomStore.RoomIDsForUser(ctx, userID); err != nil {
		n.logger.Error("failed to baseline stream", "user_id", userID, "error", err)
	} else if maxID, err := n.messageStore.MaxIDForRooms(ctx, roomIDs); err != nil {
		n.logger.Error("failed to baseline stream", "user_id", userID, "error", err)
	} else {
		state.lastMessageID = maxID
	}

	poll := time.NewTicker(n.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(n.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if err := w.WriteHeartbeat(); err != nil {
				return err
			}
		case <-poll.C:
			if err := n.poll(ctx, userID, w, state); err != nil {
				return err
			}
		}
	}
}

// poll runs one diff cycle. A returned error is always a write error.
func (n *Notifier) poll(ctx context.Context, userID uuid.UUID, w EventWriter, state *streamState) error {
	roomIDs, err := n.roomStore.RoomIDsForUser(ctx, userID)
	if err != nil {
		n.logger.Error("poll failed", "user_id", userID, "error", err)
		return nil
	}
	activeRooms, err := n.roomStore.FilterUnexpired(ctx, roomIDs)
	if err != nil {
		n.logger.Error("poll failed", "user_id", userID, "error", err)
		return nil
	}

	roomsChanged := state.lastRoomCount != -1 && len(activeRooms) != state.lastRoomCount
	state.lastRoomCount = len(activeRooms)
	if roomsChanged {
		if err := w.WriteEvent(model.Event{Type: model.EventRoomsChanged}); err != nil {
			return err
		}
	} else {
		// Same room count; a re-published key still changes what the client
		// can decrypt, so compare the key topology fingerprint too.
		memberKeys, err := n.roomStore.MemberKeysForRooms(ctx, activeRooms)
		if err != nil {
			n.logger.Error("poll failed", "user_id", userID, "error", err)
		} else {
			fp := keyFingerprint(memberKeys)
			if state.lastKeyFingerprint != "" && fp != state.lastKeyFingerprint {
				if err := w.WriteEvent(model.Event{Type: model.EventRoomsChanged}); err != nil {
					return err
				}
			}
			state.lastKeyFingerprint = fp
		}
	}

	messages, err := n.messageStore.ListAfterForRooms(ctx, activeRooms, state.lastMessageID, maxPollMessages)
	if err != nil {
		n.logger.Error("poll failed", "user_id", userID, "error", err)
	} else {
		for _, m := range messages {
			roomID := m.RoomID
			event := model.Event{
				Type:    model.EventMessage,
				RoomID:  &roomID,
				Payload: model.NewMessageFrame(m),
			}
			if err := w.WriteEvent(event); err != nil {
				return err
			}
			if m.ID > state.lastMessageID {
				state.lastMessageID = m.ID
			}
		}
	}

	inviteCount, err := n.groupStore.PendingInvitationCount(ctx, userID)
	if err != nil {
		n.logger.Error("poll failed", "user_id", userID, "error", err)
	} else {
		if state.lastInviteCount != -1 && inviteCount != state.lastInviteCount {
			count := inviteCount
			if err := w.WriteEvent(model.Event{Type: model.EventGroupInvitation, Count: &count}); err != nil {
				return err
			}
		}
		state.lastInviteCount = inviteCount
	}

	sessions, err := n.groupStore.SessionStatuses(ctx, userID)
	if err != nil {
		n.logger.Error("poll failed", "user_id", userID, "error", err)
	} else {
		fp := sessionFingerprint(sessions)
		if state.lastSessionFingerprint != "" && fp != state.lastSessionFingerprint {
			if err := w.WriteEvent(model.Event{Type: model.EventGroupSessionChanged}); err != nil {
				return err
			}
		}
		state.lastSessionFingerprint = fp
	}

	return nil
}

// keyFingerprint collapses room/key topology into a comparable string.
// Sorted so row order from storage does not matter.
func keyFingerprint(keys []model.MemberKey) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k.UserID.String()+":"+k.KeyID)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func sessionFingerprint(sessions []model.SessionStatus) string {
	parts := make([]string, 0, len(sessions))
	for _, s := range sessions {
		parts = append(parts, s.ID.String()+":"+s.Status)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
