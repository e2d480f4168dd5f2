package main

import (
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	maxChatLength  = 500
	maxMessageLog  = 200
	chatKindPublic = "chat"
	// private chat is Mafia-only
	chatKindPrivate = "private"
	chatKindSystem  = "system"
)

// ChatMessage is one entry of a session's message log.
type ChatMessage struct {
	Kind     string    `json:"type"`
	SenderID string    `json:"sender_id,omitempty"`
	Sender   string    `json:"sender,omitempty"`
	Text     string    `json:"content"`
	At       time.Time `json:"timestamp"`
}

// SendChat posts text to the session. Private messages go to the Mafia only
// and can only be sent by them.
func (r *Registry) SendChat(code, identity, text string, private bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}
	if len(text) > maxChatLength {
		return fmt.Errorf("%w: message longer than %d characters", ErrInvalidMessage, maxChatLength)
	}

	return r.withSession(code, func(s *Session) error {
		sender := s.player(identity)
		if sender == nil {
			return fmt.Errorf("%w: player %q", ErrNotFound, identity)
		}
		if s.phase == PhaseEnded {
			return fmt.Errorf("%w: the game is over", ErrWrongPhase)
		}
		if !sender.Alive {
			return fmt.Errorf("%w: the dead do not talk", ErrNotAlive)
		}
		if private && sender.Role != RoleMafia {
			return fmt.Errorf("%w: only the Mafia can talk privately", ErrWrongRole)
		}

		msg := ChatMessage{Kind: chatKindPublic, SenderID: sender.ID, Sender: sender.Name, Text: text, At: time.Now()}
		if private {
			msg.Kind = chatKindPrivate
		}
		s.appendMessage(msg)
		DebugLog("SendChat", "Session %s %s message from '%s'", code, msg.Kind, sender.Name)

		ev := Event{Kind: EventChatMessage, Code: code, Message: &msg}
		if !private {
			r.notifier.Broadcast(code, ev)
			return nil
		}
		for _, p := range s.players {
			if p.Role == RoleMafia {
				r.notifier.SendTo(code, p.ID, ev)
			}
		}
		return nil
	})
}

// addSystemMessage appends a narrator line and broadcasts it.
// Called with s.mu held.
func (r *Registry) addSystemMessage(s *Session, text string) {
	msg := ChatMessage{Kind: chatKindSystem, Text: text, At: time.Now()}
	s.appendMessage(msg)
	log.Printf("[%s] %s", s.code, text)
	r.notifier.Broadcast(s.code, Event{Kind: EventChatMessage, Code: s.code, Message: &msg})
}

func (s *Session) appendMessage(msg ChatMessage) {
	s.messages = append(s.messages, msg)
	if over := len(s.messages) - maxMessageLog; over > 0 {
		s.messages = append(s.messages[:0:0], s.messages[over:]...)
	}
}

// visibleMessages returns the log as identity may read it: private Mafia
// chatter is left out for everyone else.
func visibleMessages(s *Session, identity string) []ChatMessage {
	viewer := s.player(identity)
	mafia := viewer != nil && viewer.Role == RoleMafia

	out := make([]ChatMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Kind == chatKindPrivate && !mafia {
			continue
		}
		out = append(out, m)
	}
	return out
}
