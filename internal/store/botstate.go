package store

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"channel-emulator/internal/model"
)

func botStateKey(channelID, target string) string {
	return channelID + "|" + target
}

// PrivateStateTarget is the target for private conversation data, scoped
// to one user inside one conversation.
func PrivateStateTarget(conversationID, userID string) string {
	return conversationID + "/" + userID
}

// GetBotState returns the stored record for (channelID, target) where
// target is a conversation id or user id. Absent records come back as an
// empty object with the wildcard eTag, matching the real service.
func (s *Store) GetBotState(channelID, target string) model.BotStateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.botState[botStateKey(channelID, target)]
	if !ok {
		return model.BotStateRecord{Data: json.RawMessage("{}"), ETag: "*"}
	}
	return rec
}

// SetBotState replaces the whole record, last write wins. There is no
// partial update.
func (s *Store) SetBotState(channelID, target string, data json.RawMessage) model.BotStateRecord {
	rec := model.BotStateRecord{Data: data, ETag: uuid.NewString()}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.botState[botStateKey(channelID, target)] = rec
	return rec
}

func (s *Store) DeleteBotState(channelID, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.botState, botStateKey(channelID, target))
}

// DeleteBotStateForUser removes the user's record and every private
// conversation record for that user in the channel.
func (s *Store) DeleteBotStateForUser(channelID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := channelID + "|"
	for key := range s.botState {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		target := key[len(prefix):]
		if target == userID || strings.HasSuffix(target, "/"+userID) {
			delete(s.botState, key)
		}
	}
}
