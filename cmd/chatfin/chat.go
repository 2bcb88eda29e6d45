package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/chatfin/internal/assistant"
	"github.com/Veraticus/chatfin/internal/cli"
	"github.com/Veraticus/chatfin/internal/model"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Record expenses and ask about spending in plain language",
		Long: `Start an interactive session. Type things like

  Spent 500 on food at Swiggy
  paid 1200 for electricity yesterday
  How much did I spend on groceries this month?

chatfin asks follow-up questions when the amount or category is missing.
Type /new to drop a half-finished entry and /quit to leave.`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	interrupts := cli.NewInterruptHandler(out)
	ctx := interrupts.HandleInterrupts(cmd.Context(), "Unfinished entries were not saved.")

	fmt.Fprintln(out, cli.FormatTitle(cli.WalletIcon+" chatfin"))
	err = chatLoop(ctx, a.svc, a.cfg.User, a.cfg.Conversation.CurrencySymbol, cmd.InOrStdin(), out)
	if interrupts.WasInterrupted() {
		return nil
	}
	return err
}

// conversationService is the part of the assistant the chat loop drives.
type conversationService interface {
	AdvanceConversation(ctx context.Context, userID, sessionID, utterance string) (*assistant.TurnResult, error)
	EndConversation(ctx context.Context, userID, sessionID string) error
}

// chatLoop reads utterances until EOF, /quit or cancellation. A session
// lives until its dialogue ends; the next utterance then starts a new one.
func chatLoop(ctx context.Context, svc conversationService, userID, currency string, in io.Reader, out io.Writer) error {
	reader := cli.NewNonBlockingReader(in)
	sessionID := ""

	end := func() error {
		if sessionID == "" {
			return nil
		}
		err := svc.EndConversation(ctx, userID, sessionID)
		sessionID = ""
		return err
	}

	for {
		fmt.Fprint(out, cli.FormatPrompt("> "))
		line, err := reader.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, cli.ErrInputCancelled) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "/quit", "/exit":
			return end()
		case "/new":
			if err := end(); err != nil {
				return err
			}
			fmt.Fprintln(out, cli.FormatInfo("Started over"))
			continue
		}

		turn, err := svc.AdvanceConversation(ctx, userID, sessionID, line)
		if err != nil {
			return err
		}
		sessionID = turn.Session.ID

		fmt.Fprintln(out, formatTurn(turn, currency))

		if turn.Session.State.Terminal() || turn.Session.State == model.StateIdle {
			if err := end(); err != nil {
				return err
			}
		}
	}
}

func formatTurn(turn *assistant.TurnResult, currency string) string {
	resp := turn.Response
	switch {
	case resp.Summary != nil:
		return cli.FormatSummary(resp.Summary, currency)
	case resp.State == model.StateComplete:
		return cli.FormatSuccess(resp.Message)
	case resp.State == model.StateCancelled:
		return cli.FormatWarning(resp.Message)
	default:
		return resp.Message
	}
}
