package manager

import (
	"context"
	"fmt"
)

// botService adapts a Runner to suture.Service
type botService struct {
	runner     Runner
	webhookURL string
}

// Serve polls in polling mode. In webhook mode it registers the webhook
// and idles, updates then arrive through Manager.Dispatch.
func (s *botService) Serve(ctx context.Context) error {
	if s.webhookURL == "" {
		return s.runner.Serve(ctx)
	}
	if err := s.runner.SetWebhook(s.webhookURL); err != nil {
		return fmt.Errorf("bot %d: %w", s.runner.ID(), err)
	}
	<-ctx.Done()
	return nil
}

func (s *botService) String() string {
	return fmt.Sprintf("bot-%d", s.runner.ID())
}
