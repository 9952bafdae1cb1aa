package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedfanout/internal/service"
	"github.com/d60-Lab/feedfanout/pkg/response"
)

// Handler HTTP 入口，只做参数绑定与错误映射
type Handler struct {
	feedService    *service.NewsFeedService
	tweetService   *service.TweetService
	userService    *service.UserService
	likeService    *service.LikeService
	commentService *service.CommentService
	relService     service.RelationshipService

	tokenSecret string
	tokenIssuer string
	tokenTTL    time.Duration
}

type Services struct {
	Feeds     *service.NewsFeedService
	Tweets    *service.TweetService
	Users     *service.UserService
	Likes     *service.LikeService
	Comments  *service.CommentService
	Relations service.RelationshipService
}

// TokenConfig 注册接口签发 token 用
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

func NewHandler(s Services, tc TokenConfig) *Handler {
	return &Handler{
		feedService:    s.Feeds,
		tweetService:   s.Tweets,
		userService:    s.Users,
		likeService:    s.Likes,
		commentService: s.Comments,
		relService:     s.Relations,
		tokenSecret:    tc.Secret,
		tokenIssuer:    tc.Issuer,
		tokenTTL:       tc.TTL,
	}
}

// fail 业务错误映射为 4xx，其余按 500 记录
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTweetNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrTargetNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrNotTweetAuthor):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrContentTooLong),
		errors.Is(err, service.ErrCommentTooLong),
		errors.Is(err, service.ErrInvalidTarget),
		errors.Is(err, service.ErrFollowSelf),
		errors.Is(err, service.ErrEmptyUsername):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
