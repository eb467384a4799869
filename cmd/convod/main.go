package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/mfigueira/convo/internal/daemon"
	"github.com/mfigueira/convo/internal/outbound"
	"github.com/mfigueira/convo/internal/session"
	"github.com/mfigueira/convo/internal/store"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	conversationFlag := flag.String("conversation", "default", "conversation id to open")
	recipientFlag := flag.String("recipient", "", "recipient id for outgoing messages")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(
			daemon.Params{
				SessionName:    sessionName,
				ConversationID: *conversationFlag,
				SelfID:         "self",
				RecipientID:    *recipientFlag,
				RecipientKind:  outbound.RecipientUser,
			},
			daemon.Collaborators{
				// Loopback transport: confirms sends locally so the engine
				// can run without a realtime adapter attached.
				Transport: loopbackTransport{},
			},
		),
	)

	app.Run()
}

// loopbackTransport acknowledges every send with a generated server id.
type loopbackTransport struct{}

func (loopbackTransport) SendMessage(_ context.Context, _ outbound.Content, _ string, _ outbound.RecipientKind) (string, *store.MediaMeta, error) {
	return "local-" + uuid.NewString(), nil, nil
}
