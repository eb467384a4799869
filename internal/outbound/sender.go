// Package outbound drives the lifecycle of locally created messages from
// optimistic local echo through transport confirmation.
package outbound

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mfigueira/convo/internal/bus"
	"github.com/mfigueira/convo/internal/store"
	"go.uber.org/zap"
)

// RecipientKind distinguishes a direct peer from a group.
type RecipientKind string

const (
	RecipientUser  RecipientKind = "user"
	RecipientGroup RecipientKind = "group"
)

// Content is the kind-specific payload of an outgoing message.
type Content struct {
	Kind      store.MediaKind
	Text      string
	LocalPath string
	Meta      *store.MediaMeta // dimensions/duration known at capture time
}

// Transport sends a message to the server. The returned metadata, if any,
// is attached to the message as part of the confirmation.
type Transport interface {
	SendMessage(ctx context.Context, content Content, recipientID string, kind RecipientKind) (serverID string, meta *store.MediaMeta, err error)
}

// validTransitions defines the outbound state machine. SendNone stands for
// the composing phase, before the message enters the log. No state is ever
// skipped: a message never goes from composing straight to sent.
var validTransitions = map[store.SendState][]store.SendState{
	store.SendNone:    {store.SendPending},
	store.SendPending: {store.SendSent, store.SendFailed},
	store.SendFailed:  {store.SendPending},
}

// CanTransition reports whether the outbound state machine allows a move.
func CanTransition(from, to store.SendState) bool {
	return slices.Contains(validTransitions[from], to)
}

// ErrNotResendable is returned when Resend is called on a message that is
// not in the failed state.
var ErrNotResendable = errors.New("message is not in a resendable state")

// Sender creates pending messages and runs their transport attempts.
type Sender struct {
	db        *store.DB
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
	selfID    string

	wg sync.WaitGroup
}

// NewSender creates an outbound sender for the local user selfID.
func NewSender(db *store.DB, transport Transport, b *bus.Bus, selfID string, logger *zap.Logger) *Sender {
	return &Sender{
		db:        db,
		transport: transport,
		bus:       b,
		logger:    logger,
		selfID:    selfID,
	}
}

// Send synchronously appends a pending message to the conversation log and
// returns it, so the screen reflects the sent intent before any network
// confirmation. The transport attempt runs asynchronously; its outcome is
// applied to the exact message created here, paired by a request-scoped
// client id rather than by time or position.
func (s *Sender) Send(ctx context.Context, conversationID string, content Content, recipientID string, kind RecipientKind) (*store.Message, error) {
	msg := &store.Message{
		ConversationID: conversationID,
		ClientID:       uuid.NewString(),
		SenderID:       s.selfID,
		MediaKind:      content.Kind,
		Body:           content.Text,
		LocalPath:      content.LocalPath,
		SendState:      store.SendPending,
		ReadState:      store.Read,
		CreatedAt:      time.Now().UnixMilli(),
		Meta:           content.Meta,
	}

	if err := s.db.AppendMessage(msg); err != nil {
		return nil, err
	}

	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageAppended,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": conversationID,
			"client_id":       msg.ClientID,
		},
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.attempt(ctx, msg.ClientID, content, recipientID, kind)
	}()

	return msg, nil
}

// Resend re-attempts transport for a failed message with its original
// content. It re-enters the pending state; success replaces failed with
// sent on the same entity, never creating a duplicate.
func (s *Sender) Resend(ctx context.Context, msg *store.Message, recipientID string, kind RecipientKind) error {
	if !CanTransition(msg.SendState, store.SendPending) {
		return ErrNotResendable
	}

	ok, err := s.db.MarkResendPending(msg.Seq)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotResendable
	}

	content := Content{
		Kind:      msg.MediaKind,
		Text:      msg.Body,
		LocalPath: msg.LocalPath,
		Meta:      msg.Meta,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.attempt(ctx, msg.ClientID, content, recipientID, kind)
	}()

	return nil
}

func (s *Sender) attempt(ctx context.Context, clientID string, content Content, recipientID string, kind RecipientKind) {
	serverID, meta, err := s.transport.SendMessage(ctx, content, recipientID, kind)
	if err != nil {
		s.logger.Error("failed to send message",
			zap.Error(err), zap.String("client_id", clientID))
		if _, markErr := s.db.MarkSendFailed(clientID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark send failure",
				zap.Error(markErr), zap.String("client_id", clientID))
		}
		// Exactly one user-facing failure surface per attempt.
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageFailed,
			Timestamp: time.Now(),
			Payload: map[string]string{
				"client_id": clientID,
				"error":     err.Error(),
			},
		})
		return
	}

	if content.Meta != nil && meta == nil {
		meta = content.Meta
	}

	matched, err := s.db.ConfirmSent(clientID, serverID, meta)
	if err != nil {
		s.logger.Error("failed to confirm send",
			zap.Error(err), zap.String("client_id", clientID))
		return
	}
	if !matched {
		// The message was deleted while the request was in flight; the
		// confirmation has no target and is discarded.
		s.logger.Warn("send confirmation discarded",
			zap.String("client_id", clientID), zap.String("server_id", serverID))
		return
	}

	s.logger.Info("message sent",
		zap.String("client_id", clientID), zap.String("server_id", serverID))
	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSendAck,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"client_id": clientID,
			"server_id": serverID,
		},
	})
}

// Wait blocks until every in-flight transport attempt has completed.
func (s *Sender) Wait() {
	s.wg.Wait()
}
