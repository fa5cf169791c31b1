package gateway

import (
	"errors"
	"fmt"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
	"github.com/HealthMateDemo/HealthMateV1/pkg/usage"
)

const (
	ProcessingErrorMessage = "Error processing message"
	ReplyFailedMessage     = "Unable to generate a reply right now"
)

// handleFrame answers malformed frames with an error envelope and ignores
// every kind other than message.
func (s *Server) handleFrame(sess *Session, data []byte) {
	in, err := bus.Decode(data)
	if err != nil {
		logger.WarnCF("gateway", "Error processing message", map[string]interface{}{
			"session_id": sess.ID(),
			"error":      err.Error(),
		})
		s.emit(sess, bus.NewError(ProcessingErrorMessage, "", s.now()))
		return
	}

	if in.Kind != bus.KindMessage {
		logger.DebugCF("gateway", "Ignoring envelope", map[string]interface{}{
			"session_id": sess.ID(),
			"type":       string(in.Kind),
		})
		return
	}

	logger.DebugCF("gateway", "Received message", map[string]interface{}{
		"session_id":      sess.ID(),
		"conversation_id": in.ConversationID,
		"template":        string(in.Template),
		"preview":         preview(in.Content, 80),
	})
	s.handleChat(sess, in)
}

// handleChat arms the typing timer; the typing step arms the reply timer.
// Messages are not serialized, so replies for one session may interleave.
func (s *Server) handleChat(sess *Session, in bus.Envelope) {
	sess.schedule(s.cfg.TypingDelay(), func() {
		s.emit(sess, bus.NewTyping(in.ConversationID, s.now()))
		sess.schedule(s.cfg.ReplyDelay(), func() {
			s.reply(sess, in)
		})
	})
}

func (s *Server) reply(sess *Session, in bus.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("gateway", "Recovered panic while generating reply", map[string]interface{}{
				"session_id": sess.ID(),
				"panic":      fmt.Sprint(r),
			})
			s.emit(sess, bus.NewError(ProcessingErrorMessage, in.ConversationID, s.now()))
		}
	}()

	start := s.now()
	text, err := s.producer.Generate(sess.ctx, in.Content, in.Template)
	latency := s.now().Sub(start)

	rec := usage.Record{
		SessionID:      sess.ID(),
		ConversationID: in.ConversationID,
		Template:       string(in.Template.OrDefault()),
		Producer:       s.producer.Name(),
		LatencyMS:      latency.Milliseconds(),
		ReplyChars:     len(text),
	}

	if err != nil {
		if sess.ctx.Err() != nil {
			logger.DebugCF("gateway", "Reply abandoned, session closed", map[string]interface{}{
				"session_id": sess.ID(),
			})
			return
		}
		logger.ErrorCF("gateway", "Reply producer failed", map[string]interface{}{
			"session_id": sess.ID(),
			"producer":   s.producer.Name(),
			"error":      err.Error(),
		})
		rec.Failed = true
		rec.Reason = err.Error()
		s.record(rec)
		s.emit(sess, bus.NewError(ReplyFailedMessage, in.ConversationID, s.now()))
		return
	}

	s.record(rec)
	s.emit(sess, bus.NewMessage(bus.SenderAI, text, in.ConversationID, in.Template, s.now()))
	logger.DebugCF("gateway", "Reply sent", map[string]interface{}{
		"session_id":      sess.ID(),
		"conversation_id": in.ConversationID,
		"latency":         latency.String(),
		"chars":           len(text),
	})
}

// emit writes env to sess. Writing to a closed session is a no-op.
func (s *Server) emit(sess *Session, env bus.Envelope) {
	err := sess.send(env)
	if err == nil {
		return
	}
	if errors.Is(err, ErrSessionClosed) {
		logger.DebugCF("gateway", "Dropping envelope for closed session", map[string]interface{}{
			"session_id": sess.ID(),
			"type":       string(env.Kind),
		})
		return
	}
	logger.WarnCF("gateway", "Failed to send envelope", map[string]interface{}{
		"session_id": sess.ID(),
		"type":       string(env.Kind),
		"error":      err.Error(),
	})
}

func (s *Server) record(r usage.Record) {
	if s.usage == nil {
		return
	}
	r.Timestamp = s.now().UTC()
	if err := s.usage.Append(r); err != nil {
		logger.WarnCF("gateway", "Failed to record reply usage", map[string]interface{}{"error": err.Error()})
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

