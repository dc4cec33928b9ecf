package domain

import "context"

// ProgramUpdateNotifier is told about programs whose donors changed after a
// commit or a migration. donorIDs may be empty when the caller only knows
// the program.
type ProgramUpdateNotifier interface {
	ProgramUpdated(ctx context.Context, programID string, donorIDs []string) error
}

// NopNotifier discards every notification.
type NopNotifier struct{}

// ProgramUpdated implements ProgramUpdateNotifier.
func (NopNotifier) ProgramUpdated(context.Context, string, []string) error { return nil }
