package core

import (
	"sync"
	"time"

	"github.com/mstavros/corebot/pkg/models"
)

// bufferSize bounds a channel session's message buffer to the last N
// messages (user and assistant messages both count).
const bufferSize = 10

// ChannelSession is the per-channel mutable state the Dispatcher keeps for
// the process lifetime: the bounded buffer of recent turns fed into each
// envelope's recent-buffer section.
type ChannelSession struct {
	mu     sync.Mutex
	buffer []*models.Message
}

// Append adds msg to the buffer, evicting the oldest entry once bufferSize
// is exceeded.
func (cs *ChannelSession) Append(msg *models.Message) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.buffer = append(cs.buffer, msg)
	if len(cs.buffer) > bufferSize {
		cs.buffer = cs.buffer[len(cs.buffer)-bufferSize:]
	}
}

// Buffer returns a snapshot of the current buffer, oldest first.
func (cs *ChannelSession) Buffer() []*models.Message {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*models.Message, len(cs.buffer))
	copy(out, cs.buffer)
	return out
}

// SessionStore lazily creates and retains one ChannelSession per channel_id
// for the life of the process.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*ChannelSession
}

// NewSessionStore builds an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*ChannelSession)}
}

// Get returns channelID's session, creating it on first use.
func (s *SessionStore) Get(channelID string) *ChannelSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[channelID]
	if !ok {
		cs = &ChannelSession{}
		s.sessions[channelID] = cs
	}
	return cs
}

func newMessage(channelID string, role models.Role, content string) *models.Message {
	return &models.Message{
		ChannelID: channelID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
