package journal

import (
	"log/slog"

	"github.com/HendryAvila/trellis/internal/store"
)

// Bridge records store commits in the journal. It implements
// store.Observer.
type Bridge struct {
	journal *Store
	logger  *slog.Logger
}

// NewBridge creates a bridge that journals every commit. A bridge built
// from a nil journal is returned as nil and ignores commits.
func NewBridge(j *Store, logger *slog.Logger) *Bridge {
	if j == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{journal: j, logger: logger}
}

// OnCommit stores ev. Best-effort: a failed insert is logged and does not
// propagate, because the committed file is the primary concern.
func (b *Bridge) OnCommit(ev store.Event) {
	if b == nil || b.journal == nil {
		return
	}
	_, err := b.journal.Record(Entry{
		Root:       ev.Root,
		ObjectID:   ev.ObjectID,
		Kind:       ev.Kind,
		Op:         string(ev.Op),
		FromStatus: ev.FromStatus,
		ToStatus:   ev.ToStatus,
		Path:       ev.Path,
		At:         ev.At,
	})
	if err != nil {
		b.logger.Warn("journal bridge: record failed", "object", ev.ObjectID, "op", ev.Op, "error", err)
	}
}
