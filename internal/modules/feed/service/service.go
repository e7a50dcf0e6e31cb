package service

import (
	"fmt"

	"github.com/gorilla/feeds"
	"github.com/samber/oops"

	summaryRepo "tg-assistant/internal/modules/summary/repository"
)

const feedItemLimit = 20

// Service renders recent stored digests as an RSS feed.
type Service struct {
	summaryRepo summaryRepo.Repository
}

// New creates a new feed service.
func New(summaryRepo summaryRepo.Repository) *Service {
	return &Service{summaryRepo: summaryRepo}
}

// GenerateFeed builds the RSS feed of recent digests.
func (s *Service) GenerateFeed(baseURL string) (*feeds.Feed, error) {
	recent, err := s.summaryRepo.Recent(feedItemLimit)
	if err != nil {
		return nil, oops.With("context", "failed to list recent summaries").Wrap(err)
	}

	feed := &feeds.Feed{
		Title:       "Chat digests",
		Link:        &feeds.Link{Href: baseURL + "/feed"},
		Description: "Prioritized digests of monitored chats",
	}

	for _, stored := range recent {
		feed.Items = append(feed.Items, &feeds.Item{
			Title:       fmt.Sprintf("Digest %s", stored.GeneratedAt.Format("2006-01-02 15:04")),
			Link:        &feeds.Link{Href: baseURL + "/feed"},
			Description: stored.Content,
			Created:     stored.GeneratedAt,
			Id:          stored.Name,
		})
	}

	if len(feed.Items) > 0 {
		feed.Created = feed.Items[len(feed.Items)-1].Created
		feed.Updated = feed.Items[0].Created
	}

	return feed, nil
}
