package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clinichat/clinichat/internal/auth"
	"github.com/clinichat/clinichat/internal/backend"
	"github.com/clinichat/clinichat/internal/session"
)

func newLoginCmd() *cobra.Command {
	var accessToken, refreshToken string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the token pair issued by the identity service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(accessToken) == "" {
				return fmt.Errorf("--access-token is required")
			}
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			if err := app.creds.Set(auth.Credentials{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
			}); err != nil {
				return err
			}
			fmt.Println("credentials stored")
			return nil
		},
	}
	cmd.Flags().StringVar(&accessToken, "access-token", "", "bearer access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			if err := app.creds.Clear(); err != nil {
				return err
			}
			fmt.Println("credentials cleared")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe the AI service",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			if err := app.ai.Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("ai service: ok")
			return nil
		},
	}
}

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Manage conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			if err := app.orchestrator.RefreshConversations(cmd.Context()); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tLAST MESSAGE")
			for _, conv := range app.orchestrator.Store().Conversations() {
				last := ""
				if !conv.LastMessageAt.IsZero() {
					last = conv.LastMessageAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", conv.ID, conv.Title, conv.Category, last)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "Show a conversation's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			if err := app.orchestrator.SwitchConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			for _, msg := range app.orchestrator.Store().Messages(args[0]) {
				printMessage(msg)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <conversation-id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			return app.orchestrator.Rename(cmd.Context(), args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			next, err := app.orchestrator.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if next != "" {
				fmt.Println("active conversation:", next)
			}
			return nil
		},
	})

	return cmd
}

func newSendCmd() *cobra.Command {
	var conversationID string
	var files []string
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message, optionally with document or image attachments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) > 0 {
				text = args[0]
			}
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			if conversationID != "" {
				if err := app.orchestrator.SwitchConversation(cmd.Context(), conversationID); err != nil {
					return err
				}
			}

			uploads, closers, err := openUploads(files)
			if err != nil {
				return err
			}
			defer closers()

			result, err := app.orchestrator.Send(cmd.Context(), session.SendInput{
				ConversationID: conversationID,
				Text:           text,
				Files:          uploads,
			})
			if err != nil {
				return err
			}
			printMessage(result.Assistant)
			if conversationID == "" {
				fmt.Fprintln(os.Stderr, "conversation:", result.ConversationID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation id (omit to start a new one)")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "file to attach (repeatable)")
	return cmd
}

func newRegenerateCmd() *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "regenerate <message-id>",
		Short: "Regenerate an assistant message in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversationID == "" {
				return fmt.Errorf("--conversation is required")
			}
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			if err := app.orchestrator.SwitchConversation(cmd.Context(), conversationID); err != nil {
				return err
			}
			msg, err := app.orchestrator.Regenerate(cmd.Context(), conversationID, args[0])
			if err != nil {
				return err
			}
			printMessage(msg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation id")
	return cmd
}

func newSummarizeCmd() *cobra.Command {
	var summaryType string
	cmd := &cobra.Command{
		Use:   "summarize <file>",
		Short: "Summarize text from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			summary, err := app.ai.Summarize(cmd.Context(), string(content), summaryType)
			if err != nil {
				return err
			}
			fmt.Println(summary.Summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&summaryType, "type", "", "summary type (e.g. medical, diagnostic, treatment)")
	return cmd
}

func newSuggestCmd() *cobra.Command {
	var contextText, lastMessage string
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Get follow-up question suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			suggestions, err := app.ai.Suggestions(cmd.Context(), contextText, lastMessage)
			if err != nil {
				return err
			}
			for _, s := range suggestions {
				fmt.Println("-", s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&contextText, "context", "", "conversation context")
	cmd.Flags().StringVar(&lastMessage, "last-message", "", "last user message")
	return cmd
}

func openUploads(paths []string) ([]backend.UploadFile, func(), error) {
	var files []backend.UploadFile
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		opened = append(opened, f)
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		files = append(files, backend.UploadFile{
			Name:     filepath.Base(path),
			MimeType: mimeType,
			Reader:   f,
		})
	}
	return files, closeAll, nil
}

func printMessage(msg backend.Message) {
	if msg.Heading != "" {
		fmt.Println("##", msg.Heading)
	}
	fmt.Println(msg.Content)
	if len(msg.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, src := range msg.Sources {
			fmt.Println("-", src)
		}
	}
}
