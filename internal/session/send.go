// ABOUTME: Outgoing text and compose buffer handling for a Session
// ABOUTME: Sends go to the engine; records only arrive through sent notifications

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyMessage is reported for a body that is blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrSendFailed wraps an engine rejection of an outgoing message.
	ErrSendFailed = errors.New("send failed")
)

// SendText submits body to the engine. Blank bodies are reported as
// ErrEmptyMessage through observers and returned; engine failures are
// reported later as ErrSendFailed. The record itself only appears when the
// engine confirms the send.
func (s *Session) SendText(body string) error {
	return s.send(body, false)
}

// SetDraft replaces the compose buffer.
func (s *Session) SetDraft(text string) {
	if text == s.draft {
		return
	}
	s.draft = text
	s.notify(Change{Kind: ChangeDraft})
}

// Draft returns the compose buffer.
func (s *Session) Draft() string {
	return s.draft
}

// SendDraft sends the compose buffer. The buffer is cleared when the sent
// confirmation arrives and kept if the send fails.
func (s *Session) SendDraft() error {
	return s.send(s.draft, true)
}

func (s *Session) send(body string, fromDraft bool) error {
	text := strings.TrimSpace(body)
	if text == "" {
		s.logger.Debug("ignoring empty message", "conversation_id", s.conversationID)
		s.notify(Change{Kind: ChangeError, Err: ErrEmptyMessage})
		return ErrEmptyMessage
	}
	if !s.active {
		return ErrNotActive
	}

	// draftSend identifies this send as the draft's; zero for plain sends.
	var draftSend uint64
	if fromDraft {
		s.draftSeq++
		draftSend = s.draftSeq
		s.pendingDraft = pendingDraft{seq: draftSend, text: body}
	}

	epoch := s.epoch
	conversationID := s.conversationID
	timeout := s.cfg.SendTimeout
	s.sends.started()

	posted := s.cfg.Executor.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := s.cfg.Engine.SendText(ctx, conversationID, text)
		s.cfg.Presentation.Post(func() {
			s.completeSend(epoch, draftSend, err)
		})
	})
	if !posted {
		s.completeSend(epoch, draftSend, errors.New("engine context unavailable"))
	}
	return nil
}

// pendingDraft tracks a draft send until the engine has both accepted it
// and delivered a sent confirmation while it was outstanding.
type pendingDraft struct {
	seq       uint64 // zero when no draft send is outstanding
	text      string
	accepted  bool
	confirmed bool
}

func (s *Session) completeSend(epoch, draftSend uint64, err error) {
	if epoch != s.epoch {
		s.sends.finished(false)
		return
	}
	s.sends.finished(err == nil)
	s.cfg.Metrics.Send(err)
	ours := draftSend != 0 && draftSend == s.pendingDraft.seq

	if err == nil {
		if ours {
			s.pendingDraft.accepted = true
			s.settleDraft()
		}
		return
	}

	if ours {
		// Keep the draft so the user can retry.
		s.pendingDraft = pendingDraft{}
	}
	wrapped := fmt.Errorf("%w: %w", ErrSendFailed, err)
	s.logger.Warn("send failed", "conversation_id", s.conversationID, "error", err)
	s.notify(Change{Kind: ChangeError, Err: wrapped})
}

// sendTracker counts sends the engine has not answered and accepted sends
// whose sent confirmation has not arrived. Confirmations can overtake the
// engine's answer, so those are held as early until a send is accepted.
type sendTracker struct {
	pending     int
	unconfirmed int
	early       int
}

func (t *sendTracker) started() { t.pending++ }

func (t *sendTracker) finished(accepted bool) {
	t.pending--
	if accepted {
		if t.early > 0 {
			t.early--
		} else {
			t.unconfirmed++
		}
	}
	if t.pending == 0 {
		t.early = 0
	}
}

func (t *sendTracker) confirmed() {
	switch {
	case t.unconfirmed > 0:
		t.unconfirmed--
	case t.pending > 0:
		t.early++
	}
}

func (t *sendTracker) busy() bool {
	return t.pending > 0 || t.unconfirmed > 0
}

// reset forgets confirmations; sends already posted still report back
// through finished.
func (t *sendTracker) reset() {
	t.unconfirmed = 0
	t.early = 0
}

// confirmDraft records a sent confirmation for the outstanding draft send.
func (s *Session) confirmDraft() {
	if s.pendingDraft.seq == 0 {
		return
	}
	s.pendingDraft.confirmed = true
	s.settleDraft()
}

// settleDraft clears the draft once its send is accepted and confirmed,
// unless the user has edited it since.
func (s *Session) settleDraft() {
	p := s.pendingDraft
	if !p.accepted || !p.confirmed {
		return
	}
	s.pendingDraft = pendingDraft{}
	if s.draft == p.text {
		s.SetDraft("")
	}
}
