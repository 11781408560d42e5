package sync

import (
	"strings"

	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/pkg/types"
)

// flatMailbox is a mailbox with its fully-qualified server-side name.
type flatMailbox struct {
	Name       string
	Attributes []string
}

// flattenMailboxes walks the mailbox tree with an explicit work-stack and
// emits each node under its fully-qualified name (parent<delimiter>child),
// parents before children.
func flattenMailboxes(roots []*email.Mailbox) []flatMailbox {
	type frame struct {
		node   *email.Mailbox
		prefix string
	}

	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: roots[i]})
	}

	var flattened []flatMailbox
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		name := f.node.Name
		if f.prefix != "" {
			name = f.prefix + f.node.Delimiter + f.node.Name
		}
		flattened = append(flattened, flatMailbox{Name: name, Attributes: f.node.Attributes})

		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Children[i], prefix: name})
		}
	}

	return flattened
}

// classifyFolder infers the folder type from server attributes first, then
// name substrings, defaulting to custom.
func classifyFolder(name string, attributes []string) types.FolderType {
	lower := strings.ToLower(name)

	switch {
	case hasAttribute(attributes, `\Inbox`) || strings.Contains(lower, "inbox"):
		return types.FolderInbox
	case hasAttribute(attributes, `\Sent`) || strings.Contains(lower, "sent") || strings.Contains(name, "已发送"):
		return types.FolderSent
	case hasAttribute(attributes, `\Drafts`) || strings.Contains(lower, "draft") || strings.Contains(name, "草稿"):
		return types.FolderDrafts
	case hasAttribute(attributes, `\Trash`) || strings.Contains(lower, "trash") || strings.Contains(name, "垃圾"):
		return types.FolderTrash
	default:
		return types.FolderCustom
	}
}

// folderSortOrder fixes the display ordering per inferred type.
func folderSortOrder(folderType types.FolderType) int {
	switch folderType {
	case types.FolderInbox:
		return 1
	case types.FolderSent:
		return 2
	case types.FolderDrafts:
		return 3
	case types.FolderTrash:
		return 4
	default:
		return 10
	}
}

func hasAttribute(attributes []string, attribute string) bool {
	for _, a := range attributes {
		if a == attribute {
			return true
		}
	}
	return false
}
