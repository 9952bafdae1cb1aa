package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedfanout/internal/cache"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/notify"
	"github.com/d60-Lab/feedfanout/internal/repository"
)

const maxCommentLength = 140

var (
	ErrInvalidTarget  = errors.New("invalid like target")
	ErrTargetNotFound = errors.New("like target not found")
	ErrCommentTooLong = errors.New("comment is too long")
)

// LikeService 点赞写路径：点赞记录与计数同事务，提交后失效 tweet 缓存
type LikeService struct {
	db       *gorm.DB
	objects  *cache.ObjectCache
	notifier notify.Notifier
}

func NewLikeService(db *gorm.DB, objects *cache.ObjectCache, notifier notify.Notifier) *LikeService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &LikeService{db: db, objects: objects, notifier: notifier}
}

// Like 返回是否为新点赞；重复点赞不改变计数
func (s *LikeService) Like(ctx context.Context, userID string, target model.Target) (bool, error) {
	if !target.Kind.Valid() || target.ID == "" {
		return false, ErrInvalidTarget
	}
	var ownerID string
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if ownerID, err = targetOwner(ctx, tx, target); err != nil {
			return err
		}
		like := &model.Like{ID: uuid.NewString(), UserID: userID, TargetKind: target.Kind, TargetID: target.ID}
		if created, err = repository.NewLikeRepository(tx).Create(ctx, like); err != nil || !created {
			return err
		}
		return adjustLikes(ctx, tx, target, 1)
	})
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}
	s.invalidate(ctx, target)
	s.notifier.Notify(ctx, notify.Event{Verb: notify.VerbLiked, ActorID: userID, RecipientID: ownerID, Target: target})
	return true, nil
}

func (s *LikeService) Unlike(ctx context.Context, userID string, target model.Target) (bool, error) {
	if !target.Kind.Valid() || target.ID == "" {
		return false, ErrInvalidTarget
	}
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if deleted, err = repository.NewLikeRepository(tx).Delete(ctx, userID, target); err != nil || !deleted {
			return err
		}
		return adjustLikes(ctx, tx, target, -1)
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.invalidate(ctx, target)
	}
	return deleted, nil
}

// LikedTweets tweetIDs 中 userID 点赞过的集合
func (s *LikeService) LikedTweets(ctx context.Context, userID string, tweetIDs []string) (map[string]bool, error) {
	ids, err := repository.NewLikeRepository(s.db).LikedIDs(ctx, userID, model.TargetTweet, tweetIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (s *LikeService) invalidate(ctx context.Context, target model.Target) {
	switch target.Kind {
	case model.TargetTweet:
		s.objects.Invalidate(ctx, cache.KindTweet, target.ID)
	case model.TargetComment:
		// 评论不走对象缓存
	}
}

func targetOwner(ctx context.Context, tx *gorm.DB, target model.Target) (string, error) {
	switch target.Kind {
	case model.TargetTweet:
		t, err := repository.NewTweetRepository(tx).Get(ctx, target.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrTargetNotFound
		}
		if err != nil {
			return "", err
		}
		return t.UserID, nil
	case model.TargetComment:
		c, err := repository.NewCommentRepository(tx).Get(ctx, target.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrTargetNotFound
		}
		if err != nil {
			return "", err
		}
		return c.UserID, nil
	default:
		return "", ErrInvalidTarget
	}
}

func adjustLikes(ctx context.Context, tx *gorm.DB, target model.Target, delta int) error {
	var err error
	switch target.Kind {
	case model.TargetTweet:
		err = repository.NewTweetRepository(tx).IncrLikes(ctx, target.ID, delta)
	case model.TargetComment:
		err = repository.NewCommentRepository(tx).IncrLikes(ctx, target.ID, delta)
	default:
		return ErrInvalidTarget
	}
	if err != nil {
		return fmt.Errorf("adjust likes on %s: %w", target, err)
	}
	return nil
}

// CommentService 评论写路径
type CommentService struct {
	db       *gorm.DB
	objects  *cache.ObjectCache
	notifier notify.Notifier
}

func NewCommentService(db *gorm.DB, objects *cache.ObjectCache, notifier notify.Notifier) *CommentService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &CommentService{db: db, objects: objects, notifier: notifier}
}

func (s *CommentService) Create(ctx context.Context, userID, tweetID, content string) (*model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return nil, ErrCommentTooLong
	}

	comment := &model.Comment{ID: uuid.NewString(), UserID: userID, TweetID: tweetID, Content: content}
	var tweetOwner string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tweets := repository.NewTweetRepository(tx)
		t, err := tweets.Get(ctx, tweetID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTweetNotFound
		}
		if err != nil {
			return err
		}
		tweetOwner = t.UserID
		if err := repository.NewCommentRepository(tx).Create(ctx, comment); err != nil {
			return err
		}
		return tweets.IncrComments(ctx, tweetID, 1)
	})
	if err != nil {
		return nil, err
	}

	s.objects.Invalidate(ctx, cache.KindTweet, tweetID)
	s.notifier.Notify(ctx, notify.Event{
		Verb:        notify.VerbCommented,
		ActorID:     userID,
		RecipientID: tweetOwner,
		Target:      model.Target{Kind: model.TargetTweet, ID: tweetID},
	})
	return comment, nil
}
