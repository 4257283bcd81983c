package service

import (
	"context"
	"fmt"

	"fx-alerts/internal/push"
	"fx-alerts/internal/storage"
)

// RunNewsCycle executes one news poll: fetch the feed, gate every item
// through the seen-set, and notify all active tokens about genuinely new
// articles. Re-running against an identical feed emits nothing.
func (s *Service) RunNewsCycle(ctx context.Context) error {
	articles, err := s.feed.FetchArticles(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("news fetch failed; cycle discarded")
		return nil
	}
	if len(articles) == 0 {
		return nil
	}

	_, allTokens, err := s.activeTokensByUser(ctx)
	if err != nil {
		return fmt.Errorf("list active tokens: %w", err)
	}

	messages := make([]push.Message, 0)
	fresh := 0
	for _, article := range articles {
		record := storage.SeenArticle{
			Identity:    article.Identity,
			Title:       article.Title,
			URL:         article.URL,
			Source:      article.Source,
			PublishedAt: article.PublishedAt,
		}

		wasNew, err := s.stores.Seen.MarkArticleSeen(ctx, record)
		if err != nil {
			s.logger.Error().Err(err).Str("identity", article.Identity).Msg("seen-set insert failed")
			continue
		}
		if !wasNew {
			continue
		}
		fresh++

		for _, token := range allTokens {
			messages = append(messages, push.Message{
				Token: token,
				Title: article.Source,
				Body:  article.Title,
				Data:  map[string]string{"type": "news", "url": article.URL},
			})
		}
	}

	if len(messages) > 0 {
		s.dispatcher.Dispatch(ctx, messages)
	}

	s.logger.Info().Int("fetched", len(articles)).Int("new", fresh).Msg("news cycle complete")
	return nil
}
