// Package notifier
package notifier

import "github.com/amirphl/strategy-engine/internal/utils"

// Notifier interface for sending notifications (e.g., Telegram, email).
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
}

// Log writes notifications to the process log. It is used when no chat
// transport is configured.
type Log struct{}

func (Log) Send(msg string) error {
	utils.GetLogger().Infof("Notifier | %s", msg)
	return nil
}

func (l Log) SendWithRetry(msg string) error { return l.Send(msg) }
