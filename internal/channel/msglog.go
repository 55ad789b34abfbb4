package channel

import (
	"context"

	"outreach/internal/storage"
)

type entryAppender interface {
	AppendMessageLog(ctx context.Context, e storage.MessageLogEntry) error
}

type storeLog struct{ st entryAppender }

// StoreLog adapts a storage backend to MessageLog.
func StoreLog(st entryAppender) MessageLog {
	if st == nil {
		return nil
	}
	return storeLog{st: st}
}

func (l storeLog) AppendMessageLog(ctx context.Context, e LogEntry) error {
	return l.st.AppendMessageLog(ctx, storage.MessageLogEntry{
		JobID:      e.JobID,
		Channel:    string(e.Channel),
		Recipient:  e.Recipient,
		ProviderID: e.ProviderID,
		Kind:       string(e.Kind),
		At:         e.At,
	})
}
