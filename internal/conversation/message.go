// Package conversation persists the generator chat history and reconciles
// it after a successful apply: the messages that requested and produced a
// batch get marked resolved once the files land.
package conversation

import "time"

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r names a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Message is one chat entry. Assistant messages that announced generated
// files carry the declared output paths; resolution links a request to the
// response whose files were applied.
type Message struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	DeclaredPaths  []string   `json:"declared_paths,omitempty"`
	Resolved       bool       `json:"resolved"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}
