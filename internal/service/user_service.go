package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/feedfanout/internal/cache"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/repository"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrEmptyUsername = errors.New("username is empty")
)

// UserView 渲染 tweet 作者时使用的合并视图
type UserView struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// UserService 用户与资料的读穿透缓存，写入后立即失效
type UserService struct {
	users   repository.UserRepository
	objects *cache.ObjectCache
}

func NewUserService(users repository.UserRepository, objects *cache.ObjectCache) *UserService {
	return &UserService{users: users, objects: objects}
}

func (s *UserService) Create(ctx context.Context, username string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	u := &model.User{ID: uuid.NewString(), Username: username}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := cache.Through(ctx, s.objects, cache.KindUser, id, func(ctx context.Context) (*model.User, error) {
		return s.users.Get(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	return cache.Through(ctx, s.objects, cache.KindProfile, userID, func(ctx context.Context) (*model.UserProfile, error) {
		return s.users.GetOrCreateProfile(ctx, userID)
	})
}

func (s *UserService) UpdateUsername(ctx context.Context, id, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrEmptyUsername
	}
	if err := s.users.UpdateUsername(ctx, id, username); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.objects.Invalidate(ctx, cache.KindUser, id)
	return nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID, nickname, avatarURL string) (*model.UserProfile, error) {
	p := &model.UserProfile{
		UserID:    userID,
		Nickname:  strings.TrimSpace(nickname),
		AvatarURL: strings.TrimSpace(avatarURL),
		UpdatedAt: time.Now(),
	}
	if err := s.users.UpdateProfile(ctx, p); err != nil {
		return nil, err
	}
	s.objects.Invalidate(ctx, cache.KindProfile, userID)
	return p, nil
}

// Views 批量取作者视图；没有 users 记录的作者只带 id
func (s *UserService) Views(ctx context.Context, ids []string) (map[string]UserView, error) {
	users, err := cache.ThroughMany(ctx, s.objects, cache.KindUser, ids, func(ctx context.Context, missing []string) (map[string]*model.User, error) {
		rows, err := s.users.GetMany(ctx, missing)
		if err != nil {
			return nil, err
		}
		out := make(map[string]*model.User, len(rows))
		for _, u := range rows {
			out[u.ID] = u
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	profiles, err := cache.ThroughMany(ctx, s.objects, cache.KindProfile, ids, func(ctx context.Context, missing []string) (map[string]*model.UserProfile, error) {
		rows, err := s.users.GetProfiles(ctx, missing)
		if err != nil {
			return nil, err
		}
		out := make(map[string]*model.UserProfile, len(rows))
		for _, p := range rows {
			out[p.UserID] = p
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	views := make(map[string]UserView, len(ids))
	for _, id := range ids {
		v := UserView{ID: id}
		if u, ok := users[id]; ok {
			v.Username = u.Username
		}
		if p, ok := profiles[id]; ok {
			v.Nickname = p.Nickname
			v.AvatarURL = p.AvatarURL
		}
		views[id] = v
	}
	return views, nil
}
