package livechat

// reconcile swaps the pending record tempID for the server-confirmed one.
// If the feed already delivered the confirmed record, the placeholder is
// dropped instead so each logical message stays visible exactly once.
func (s *Session) reconcile(tempID string, confirmed Message) {
	confirmed.Status = StatusConfirmed
	if _, exists := s.store.Find(confirmed.ID); exists {
		if s.store.Remove(tempID) {
			s.log.Debug("Dropped placeholder already confirmed by feed", "temp_id", tempID, "id", confirmed.ID)
			s.changed()
		}
		return
	}
	if !s.store.Replace(tempID, confirmed) {
		s.store.Append(confirmed)
	}
	s.log.Debug("Message confirmed", "temp_id", tempID, "id", confirmed.ID)
	s.changed()
}

// fail marks the record as Failed so the caller can offer a retry. A record
// the feed has confirmed in the meantime is left alone.
func (s *Session) fail(tempID string, err error) {
	if !s.store.SetStatus(tempID, StatusFailed, err) {
		return
	}
	s.log.Warn("Message send failed", "temp_id", tempID, "error", err)
	s.changed()
}

// accept applies a feed delivery: duplicates are dropped, a message echoing
// one of our pending records confirms it in place, anything else is appended.
func (s *Session) accept(incoming Message) {
	if incoming.ConversationID != "" && incoming.ConversationID != s.opts.ConversationID {
		return
	}
	incoming.Status = StatusConfirmed
	incoming.Err = nil
	if !ShouldAppend(incoming, s.store) {
		s.log.Debug("Duplicate delivery dropped", "id", incoming.ID)
		return
	}
	if p, ok := s.matchPending(incoming); ok {
		s.store.Replace(p.ID, incoming)
		s.log.Debug("Message confirmed by feed", "temp_id", p.ID, "id", incoming.ID)
	} else {
		s.store.Append(incoming)
	}
	s.changed()
}

func (s *Session) matchPending(incoming Message) (Message, bool) {
	if incoming.ClientToken != "" {
		return s.store.FindUnconfirmedByToken(incoming.ClientToken)
	}
	if s.opts.FallbackWindow < 0 || incoming.AuthorID != s.opts.AuthorID {
		return Message{}, false
	}
	window := s.opts.FallbackWindow
	if window == ExactFallbackWindow {
		window = 0
	}
	return s.store.FindUnconfirmedByContent(incoming.AuthorID, incoming.Body, incoming.CreatedAt, window)
}
