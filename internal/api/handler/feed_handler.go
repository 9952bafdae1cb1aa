package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedfanout/internal/api/middleware"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/pagination"
	"github.com/d60-Lab/feedfanout/pkg/response"
)

// ListNewsFeeds 当前用户的时间线
// @Summary 时间线分页
// @Tags 时间线
// @Produce json
// @Security Bearer
// @Param created_at__lt query string false "只返回早于该时间的条目（RFC3339）"
// @Param id__lt query string false "与 created_at__lt 组成复合游标，取上一页最后一条的 id"
// @Param created_at__gt query string false "只返回晚于该时间的条目（RFC3339）"
// @Param id__gt query string false "与 created_at__gt 组成复合游标"
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=service.FeedPage}
// @Failure 400 {object} response.Response
// @Router /api/v1/newsfeeds [get]
func (h *Handler) ListNewsFeeds(c *gin.Context) {
	q, err := bindPageQuery(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	page, err := h.feedService.List(c.Request.Context(), middleware.UserID(c), q)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, page)
}

func bindPageQuery(c *gin.Context) (pagination.Query, error) {
	var p pagination.Params
	if err := c.ShouldBindQuery(&p); err != nil {
		return pagination.Query{}, err
	}
	return p.Query()
}

type createTweetRequest struct {
	Content string `json:"content" binding:"required"`
}

// CreateTweet 发帖，粉丝扇出在后台进行
// @Summary 发布 tweet
// @Tags tweet
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body createTweetRequest true "内容"
// @Success 201 {object} response.Response{data=model.Tweet}
// @Failure 400 {object} response.Response
// @Router /api/v1/tweets [post]
func (h *Handler) CreateTweet(c *gin.Context) {
	var req createTweetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	tweet, err := h.tweetService.Create(c.Request.Context(), middleware.UserID(c), req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, tweet)
}

// ListUserTweets 某个用户发过的 tweet
// @Summary 作者时间线
// @Tags tweet
// @Produce json
// @Param user_id query string true "作者 ID"
// @Param created_at__lt query string false "只返回早于该时间的条目（RFC3339）"
// @Param id__lt query string false "与 created_at__lt 组成复合游标"
// @Param created_at__gt query string false "只返回晚于该时间的条目（RFC3339）"
// @Param id__gt query string false "与 created_at__gt 组成复合游标"
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=service.FeedPage}
// @Failure 400 {object} response.Response
// @Router /api/v1/tweets [get]
func (h *Handler) ListUserTweets(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.BadRequest(c, "user_id is required")
		return
	}
	q, err := bindPageQuery(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	page, err := h.feedService.UserTweets(c.Request.Context(), middleware.UserID(c), userID, q)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, page)
}

// GetTweet 查询单条 tweet，带 token 时返回 has_liked
// @Summary 查询 tweet
// @Tags tweet
// @Param id path string true "tweet ID"
// @Success 200 {object} response.Response{data=service.TweetView}
// @Failure 404 {object} response.Response
// @Router /api/v1/tweets/{id} [get]
func (h *Handler) GetTweet(c *gin.Context) {
	view, err := h.feedService.Tweet(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, view)
}

// DeleteTweet 只有作者可以删除
// @Summary 删除 tweet
// @Tags tweet
// @Security Bearer
// @Param id path string true "tweet ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/tweets/{id} [delete]
func (h *Handler) DeleteTweet(c *gin.Context) {
	if err := h.tweetService.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

type likeRequest struct {
	TargetKind string `json:"target_kind" binding:"required"`
	TargetID   string `json:"target_id" binding:"required"`
}

func (r likeRequest) target() (model.Target, error) {
	t := model.Target{Kind: model.TargetKind(r.TargetKind), ID: r.TargetID}
	if !t.Kind.Valid() {
		return t, errors.New("target_kind must be tweet or comment")
	}
	return t, nil
}

// Like 点赞 tweet 或评论
// @Summary 点赞
// @Tags 互动
// @Accept json
// @Security Bearer
// @Param request body likeRequest true "点赞目标"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/likes [post]
func (h *Handler) Like(c *gin.Context) {
	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	target, err := req.target()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	created, err := h.likeService.Like(c.Request.Context(), middleware.UserID(c), target)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"created": created})
}

// Unlike 取消点赞
// @Summary 取消点赞
// @Tags 互动
// @Accept json
// @Security Bearer
// @Param request body likeRequest true "点赞目标"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/likes/cancel [post]
func (h *Handler) Unlike(c *gin.Context) {
	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	target, err := req.target()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	removed, err := h.likeService.Unlike(c.Request.Context(), middleware.UserID(c), target)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"removed": removed})
}

type createCommentRequest struct {
	TweetID string `json:"tweet_id" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CreateComment 评论 tweet
// @Summary 发表评论
// @Tags 互动
// @Accept json
// @Security Bearer
// @Param request body createCommentRequest true "评论"
// @Success 201 {object} response.Response{data=model.Comment}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/comments [post]
func (h *Handler) CreateComment(c *gin.Context) {
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	comment, err := h.commentService.Create(c.Request.Context(), middleware.UserID(c), req.TweetID, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, comment)
}
