package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/d60-Lab/feedfanout/internal/cache"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/pagination"
	"github.com/d60-Lab/feedfanout/internal/repository"
	"github.com/d60-Lab/feedfanout/pkg/tracing"
)

// TweetView tweet 的渲染结果
type TweetView struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	LikesCount    int64     `json:"likes_count"`
	CommentsCount int64     `json:"comments_count"`
	HasLiked      bool      `json:"has_liked"`
	User          UserView  `json:"user"`
}

type FeedItem struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Tweet     TweetView `json:"tweet"`
}

type FeedPage struct {
	Results     []FeedItem `json:"results"`
	HasNextPage bool       `json:"has_next_page"`
}

// LikeLookup viewer 点赞过的 tweet
type LikeLookup interface {
	LikedTweets(ctx context.Context, userID string, tweetIDs []string) (map[string]bool, error)
}

// NewsFeedService 时间线读取：先看有界缓存，无法证明完整时查 store
type NewsFeedService struct {
	store  repository.NewsFeedStore
	lists  *cache.FeedListCache
	tweets *TweetService
	users  *UserService
	likes  LikeLookup

	defaultPageSize int
	maxPageSize     int
}

func NewNewsFeedService(store repository.NewsFeedStore, lists *cache.FeedListCache, tweets *TweetService, users *UserService, likes LikeLookup,
	defaultPageSize, maxPageSize int) *NewsFeedService {
	return &NewsFeedService{
		store:           store,
		lists:           lists,
		tweets:          tweets,
		users:           users,
		likes:           likes,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

func (s *NewsFeedService) List(ctx context.Context, ownerID string, q pagination.Query) (*FeedPage, error) {
	ctx, span := tracing.Tracer().Start(ctx, "newsfeed.list")
	defer span.End()

	page, fromCache, err := s.Page(ctx, ownerID, q)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("feed.from_cache", fromCache), attribute.Int("feed.size", len(page.Refs)))
	return s.render(ctx, ownerID, page)
}

// UserTweets 作者时间线，has_liked 以 viewerID 计算，viewerID 为空表示匿名
func (s *NewsFeedService) UserTweets(ctx context.Context, viewerID, userID string, q pagination.Query) (*FeedPage, error) {
	ctx, span := tracing.Tracer().Start(ctx, "timeline.list")
	defer span.End()

	page, fromCache, err := s.tweets.Timeline(ctx, userID, q, q.Size(s.defaultPageSize, s.maxPageSize))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("feed.from_cache", fromCache), attribute.Int("feed.size", len(page.Refs)))
	return s.render(ctx, viewerID, page)
}

// Tweet 单条 tweet 的渲染结果
func (s *NewsFeedService) Tweet(ctx context.Context, viewerID, id string) (TweetView, error) {
	t, err := s.tweets.Get(ctx, id)
	if err != nil {
		return TweetView{}, err
	}
	authors, err := s.users.Views(ctx, []string{t.UserID})
	if err != nil {
		return TweetView{}, fmt.Errorf("load author: %w", err)
	}
	liked, err := s.likedBy(ctx, viewerID, []string{id})
	if err != nil {
		return TweetView{}, err
	}
	v := NewTweetView(t, authors[t.UserID])
	v.HasLiked = liked[id]
	return v, nil
}

// Page 只取引用，不渲染；第二个返回值表示是否由缓存给出
func (s *NewsFeedService) Page(ctx context.Context, ownerID string, q pagination.Query) (pagination.Page, bool, error) {
	size := q.Size(s.defaultPageSize, s.maxPageSize)

	refs, err := s.lists.Load(ctx, ownerID, func(ctx context.Context, limit int) ([]model.FeedRef, error) {
		rows, err := s.store.Range(ctx, ownerID, model.FeedBounds{}, limit)
		if err != nil {
			return nil, err
		}
		out := make([]model.FeedRef, len(rows))
		for i, r := range rows {
			out[i] = r.Ref()
		}
		return out, nil
	})
	if err != nil {
		return pagination.Page{}, false, fmt.Errorf("load cached feed: %w", err)
	}
	if p, ok := pagination.FromCache(refs, s.lists.Limit(), q, size); ok {
		return p, true, nil
	}

	rows, err := s.store.Range(ctx, ownerID, q.Bounds(), size+1)
	if err != nil {
		return pagination.Page{}, false, fmt.Errorf("range feed: %w", err)
	}
	return pagination.FromStore(rows, size), false, nil
}

// render 指向已删除 tweet 的条目被跳过，has_next_page 保持分页结果
func (s *NewsFeedService) render(ctx context.Context, viewerID string, page pagination.Page) (*FeedPage, error) {
	out := &FeedPage{Results: make([]FeedItem, 0, len(page.Refs)), HasNextPage: page.HasNext}
	if len(page.Refs) == 0 {
		return out, nil
	}

	tweetIDs := make([]string, len(page.Refs))
	for i, r := range page.Refs {
		tweetIDs[i] = r.TweetID
	}
	tweets, err := s.tweets.GetMany(ctx, tweetIDs)
	if err != nil {
		return nil, fmt.Errorf("load tweets: %w", err)
	}

	authorIDs := make([]string, 0, len(tweets))
	seen := make(map[string]struct{}, len(tweets))
	for _, t := range tweets {
		if _, ok := seen[t.UserID]; ok {
			continue
		}
		seen[t.UserID] = struct{}{}
		authorIDs = append(authorIDs, t.UserID)
	}
	authors, err := s.users.Views(ctx, authorIDs)
	if err != nil {
		return nil, fmt.Errorf("load authors: %w", err)
	}
	liked, err := s.likedBy(ctx, viewerID, tweetIDs)
	if err != nil {
		return nil, err
	}

	for _, r := range page.Refs {
		t, ok := tweets[r.TweetID]
		if !ok {
			continue
		}
		view := NewTweetView(t, authors[t.UserID])
		view.HasLiked = liked[t.ID]
		out.Results = append(out.Results, FeedItem{
			ID:        r.ID,
			CreatedAt: r.CreatedAt(),
			Tweet:     view,
		})
	}
	return out, nil
}

func (s *NewsFeedService) likedBy(ctx context.Context, viewerID string, tweetIDs []string) (map[string]bool, error) {
	if s.likes == nil || viewerID == "" {
		return nil, nil
	}
	liked, err := s.likes.LikedTweets(ctx, viewerID, tweetIDs)
	if err != nil {
		return nil, fmt.Errorf("load likes: %w", err)
	}
	return liked, nil
}

func NewTweetView(t *model.Tweet, author UserView) TweetView {
	if author.ID == "" {
		author.ID = t.UserID
	}
	return TweetView{
		ID:            t.ID,
		Content:       t.Content,
		CreatedAt:     t.CreatedAt,
		LikesCount:    t.LikesCount,
		CommentsCount: t.CommentsCount,
		User:          author,
	}
}
