package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedfanout/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	Get(ctx context.Context, id string) (*model.User, error)
	GetMany(ctx context.Context, ids []string) ([]*model.User, error)
	UpdateUsername(ctx context.Context, id, username string) error
	// GetOrCreateProfile 老用户可能没有 profile，读时补建
	GetOrCreateProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	// GetProfiles 只返回已存在的 profile
	GetProfiles(ctx context.Context, userIDs []string) ([]*model.UserProfile, error)
	UpdateProfile(ctx context.Context, p *model.UserProfile) error
}

type userRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepository) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *userRepository) GetMany(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var res []*model.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&res).Error
	return res, err
}

func (r *userRepository) UpdateUsername(ctx context.Context, id, username string) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("username", username)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepository) GetOrCreateProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	p := model.UserProfile{UserID: userID}
	if err := r.db.WithContext(ctx).Where(model.UserProfile{UserID: userID}).FirstOrCreate(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *userRepository) GetProfiles(ctx context.Context, userIDs []string) ([]*model.UserProfile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var res []*model.UserProfile
	err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&res).Error
	return res, err
}

func (r *userRepository) UpdateProfile(ctx context.Context, p *model.UserProfile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"nickname", "avatar_url", "updated_at"}),
		}).
		Create(p).Error
}
