package messages

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNoRecipients = errors.New("no recipients")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Store persists the message with one delivery target per recipient and
// returns it with MessageID and CreatedAt filled in.
func (s *Service) Store(ctx context.Context, msg *Message, recipients []string) (*Message, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	msg.CreatedAt = time.Now().Unix()

	if err := s.repo.Store(ctx, msg, recipients); err != nil {
		return nil, fmt.Errorf("error storing message: %w", err)
	}

	return msg, nil
}

// FetchUndelivered returns the user's pending messages, oldest first.
func (s *Service) FetchUndelivered(ctx context.Context, userID string, limit int) ([]Message, error) {
	return s.repo.FetchUndelivered(ctx, userID, limit)
}

// MarkDelivered consumes the user's target rows for the given ids.
func (s *Service) MarkDelivered(ctx context.Context, userID string, ids []int64) error {
	return s.repo.MarkDelivered(ctx, userID, ids)
}

// FetchHistory pages a conversation backwards. It returns the page
// oldest-first plus the cursor for the next older page (the smallest
// message id of this page, or 0 when the page is empty).
func (s *Service) FetchHistory(ctx context.Context, convType, convID, viewerID string, beforeID int64, limit int) ([]Message, int64, error) {
	msgs, err := s.repo.FetchHistory(ctx, convType, convID, viewerID, beforeID, limit)
	if err != nil {
		return nil, 0, err
	}

	var nextBefore int64
	if len(msgs) > 0 {
		nextBefore = msgs[0].MessageID
	}

	return msgs, nextBefore, nil
}
