package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	messageRole    string
	messageContent string
	messagePaths   []string
	messagesLimit  int
)

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Record and inspect generator chat history",
}

var messagesAddCmd = &cobra.Command{
	Use:   "add <project-id>",
	Short: "Append a chat message to a project's history",
	Long: `Append a chat message to the project's history. Assistant messages
that announce generated files should declare the output paths so a later
apply can resolve them.

Examples:
  # Record a user request
  apld messages add 2f1c... --role user --content "build the landing page"

  # Record the assistant's answer with its declared outputs
  apld messages add 2f1c... --role assistant --content "done" --paths index.html,style.css`,
	Args: cobra.ExactArgs(1),
	RunE: runMessagesAdd,
}

var messagesListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List a project's recent chat history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runMessagesList,
}

func init() {
	messagesAddCmd.Flags().StringVar(&messageRole, "role", "user", "message role: user, assistant, or system")
	messagesAddCmd.Flags().StringVar(&messageContent, "content", "", "message content (required)")
	messagesAddCmd.Flags().StringSliceVar(&messagePaths, "paths", nil, "declared output paths for assistant messages")
	_ = messagesAddCmd.MarkFlagRequired("content")

	messagesListCmd.Flags().IntVar(&messagesLimit, "limit", 20, "maximum messages to list")

	messagesCmd.AddCommand(messagesAddCmd)
	messagesCmd.AddCommand(messagesListCmd)
}

// AppendMessageRequest matches internal/http/types.go AppendMessageRequest
type AppendMessageRequest struct {
	Role          string   `json:"role"`
	Content       string   `json:"content"`
	DeclaredPaths []string `json:"declared_paths,omitempty"`
}

// Message matches internal/conversation Message
type Message struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	DeclaredPaths []string  `json:"declared_paths,omitempty"`
	Resolved      bool      `json:"resolved"`
	CreatedAt     time.Time `json:"created_at"`
}

// MessagesResponse matches internal/http/types.go MessagesResponse
type MessagesResponse struct {
	ProjectID string    `json:"project_id"`
	Messages  []Message `json:"messages"`
}

func runMessagesAdd(cmd *cobra.Command, args []string) error {
	req := AppendMessageRequest{
		Role:          messageRole,
		Content:       messageContent,
		DeclaredPaths: messagePaths,
	}

	var msg Message
	if err := postJSON("/api/v1/projects/"+args[0]+"/messages", req, &msg); err != nil {
		return err
	}
	fmt.Printf("Recorded %s message %s\n", msg.Role, msg.ID)
	return nil
}

func runMessagesList(cmd *cobra.Command, args []string) error {
	var resp MessagesResponse
	path := fmt.Sprintf("/api/v1/projects/%s/messages?limit=%d", args[0], messagesLimit)
	if err := getJSON(path, &resp); err != nil {
		return err
	}

	if len(resp.Messages) == 0 {
		fmt.Println("No messages recorded")
		return nil
	}
	for _, m := range resp.Messages {
		marker := " "
		if m.Resolved {
			marker = "*"
		}
		line := m.Content
		if len(line) > 72 {
			line = line[:69] + "..."
		}
		fmt.Printf("%s %s  %-9s  %s\n", marker, m.CreatedAt.Local().Format("15:04:05"), m.Role, line)
		if len(m.DeclaredPaths) > 0 {
			fmt.Printf("            declared: %s\n", strings.Join(m.DeclaredPaths, ", "))
		}
	}
	return nil
}
