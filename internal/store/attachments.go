package store

import (
	"github.com/google/uuid"

	"channel-emulator/internal/model"
)

// PutAttachment stores content opaquely under a generated id. Retrieval
// returns the bytes unchanged.
func (s *Store) PutAttachment(contentType string, content []byte) model.Attachment {
	stored := make([]byte, len(content))
	copy(stored, content)

	att := model.Attachment{
		ID:          uuid.NewString(),
		ContentType: contentType,
		Content:     stored,
		CreatedAt:   s.now().UnixMilli(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attachments[att.ID] = att
	return att
}

func (s *Store) GetAttachment(id string) (model.Attachment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	att, ok := s.attachments[id]
	return att, ok
}
