package service

import (
	"context"
	"errors"

	"github.com/d60-Lab/feedfanout/internal/notify"
	"github.com/d60-Lab/feedfanout/internal/repository"
)

var (
	ErrFollowSelf = errors.New("cannot follow self")
)

// RelationshipService 关系链服务
type RelationshipService interface {
	Follow(ctx context.Context, fromUserID, toUserID string) error
	Unfollow(ctx context.Context, fromUserID, toUserID string) error
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	FanCount(ctx context.Context, userID string) (int64, error)
}

type relationshipService struct {
	followRepo repository.FollowRepository
	fanRepo    repository.FanRepository
	replicator *FanReplicator
	notifier   notify.Notifier
}

// NewRelationshipService replicator 为 nil 时粉丝表同步写入
func NewRelationshipService(followRepo repository.FollowRepository, fanRepo repository.FanRepository, replicator *FanReplicator, notifier notify.Notifier) RelationshipService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &relationshipService{followRepo: followRepo, fanRepo: fanRepo, replicator: replicator, notifier: notifier}
}

// Follow 已经关注时不重复通知
func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID string) error {
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	existed, err := s.followRepo.Exists(ctx, fromUserID, toUserID)
	if err != nil {
		return err
	}
	if err := s.followRepo.Create(ctx, fromUserID, toUserID); err != nil {
		return err
	}
	if s.replicator != nil {
		s.replicator.EnqueueAdd(toUserID, fromUserID)
	} else if err := s.fanRepo.Create(ctx, toUserID, fromUserID); err != nil {
		return err
	}
	if !existed {
		s.notifier.Notify(ctx, notify.Event{Verb: notify.VerbFollowed, ActorID: fromUserID, RecipientID: toUserID})
	}
	return nil
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID string) error {
	if err := s.followRepo.Delete(ctx, fromUserID, toUserID); err != nil {
		return err
	}
	if s.replicator != nil {
		s.replicator.EnqueueRemove(toUserID, fromUserID)
		return nil
	}
	return s.fanRepo.Delete(ctx, toUserID, fromUserID)
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	offset, limit := pageWindow(page, pageSize)
	return s.followRepo.ListFolloweeIDs(ctx, userID, offset, limit)
}

func (s *relationshipService) ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	offset, limit := pageWindow(page, pageSize)
	return s.fanRepo.ListFanIDs(ctx, userID, offset, limit)
}

func (s *relationshipService) FanCount(ctx context.Context, userID string) (int64, error) {
	return s.fanRepo.Count(ctx, userID)
}

func pageWindow(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return (page - 1) * pageSize, pageSize
}
