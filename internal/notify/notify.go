// Package notify arms an out-of-band alert when a visitor message sits
// unanswered past a deadline, and cancels it when anyone replies.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// AlertFunc delivers the actual notification (push, email, webhook). The
// scheduler only decides when to fire it.
type AlertFunc func(chatbotID, sessionID string)

type Scheduler struct {
	deadline time.Duration
	alert    AlertFunc

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewScheduler(deadline time.Duration, alert AlertFunc) *Scheduler {
	return &Scheduler{
		deadline: deadline,
		alert:    alert,
		timers:   make(map[string]*time.Timer),
	}
}

func key(chatbotID, sessionID string) string {
	return chatbotID + ":" + sessionID
}

// VisitorWaiting arms the deadline for a session. An already-armed session
// keeps its original deadline: follow-up messages from the same waiting
// visitor do not push the alert further out.
func (s *Scheduler) VisitorWaiting(chatbotID, sessionID string) {
	k := key(chatbotID, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, armed := s.timers[k]; armed {
		return
	}

	s.timers[k] = time.AfterFunc(s.deadline, func() {
		s.mu.Lock()
		delete(s.timers, k)
		s.mu.Unlock()

		slog.Info("notify: visitor waiting past deadline", "chatbot_id", chatbotID, "session_id", sessionID)
		if s.alert != nil {
			s.alert(chatbotID, sessionID)
		}
	})
}

// Answered cancels a pending alert for the session, if any.
func (s *Scheduler) Answered(chatbotID, sessionID string) {
	k := key(chatbotID, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[k]; ok {
		t.Stop()
		delete(s.timers, k)
	}
}

// Stop cancels everything pending. Used on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
}

// Pending reports whether an alert is armed for the session.
func (s *Scheduler) Pending(chatbotID, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key(chatbotID, sessionID)]
	return ok
}
