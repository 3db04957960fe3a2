package status

import "github.com/chatphantom/phantomchat/internal/domain/phantom/models"

// View is what a consumer should present for a phantom.
type View int

const (
	// ViewPreparing covers every state except completed, including never heard from.
	ViewPreparing View = iota
	// ViewFinalizing is a preparing view whose job reports full progress
	// but has not yet been marked completed.
	ViewFinalizing
	ViewChat
)

func (v View) String() string {
	switch v {
	case ViewFinalizing:
		return "finalizing"
	case ViewChat:
		return "chat"
	default:
		return "preparing"
	}
}

// ViewFor gates strictly on the completed status.
func ViewFor(e Entry) View {
	if e.Status == models.StatusCompleted {
		return ViewChat
	}
	if e.Status != "" && e.Progress != nil && *e.Progress >= 100 {
		return ViewFinalizing
	}
	return ViewPreparing
}
