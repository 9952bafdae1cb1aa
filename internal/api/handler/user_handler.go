package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedfanout/internal/api/middleware"
	"github.com/d60-Lab/feedfanout/pkg/response"
)

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
}

// CreateUser 注册并返回访问 token
// @Summary 创建用户
// @Tags 用户
// @Accept json
// @Produce json
// @Param request body createUserRequest true "用户名"
// @Success 201 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/users [post]
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.userService.Create(c.Request.Context(), req.Username)
	if err != nil {
		fail(c, err)
		return
	}
	token, err := middleware.IssueToken(h.tokenSecret, h.tokenIssuer, u.ID, h.tokenTTL)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, gin.H{"user": u, "token": token})
}

// GetProfile 查询用户资料
// @Summary 用户资料
// @Tags 用户
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response{data=service.UserView}
// @Failure 404 {object} response.Response
// @Router /api/v1/users/{user_id} [get]
func (h *Handler) GetProfile(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user_id")
	if _, err := h.userService.Get(ctx, userID); err != nil {
		fail(c, err)
		return
	}
	views, err := h.userService.Views(ctx, []string{userID})
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, views[userID])
}

type updateProfileRequest struct {
	Nickname  string `json:"nickname" binding:"max=64"`
	AvatarURL string `json:"avatar_url" binding:"omitempty,url,max=255"`
}

// UpdateProfile 修改当前用户资料，写后失效资料缓存
// @Summary 修改资料
// @Tags 用户
// @Accept json
// @Security Bearer
// @Param request body updateProfileRequest true "资料"
// @Success 200 {object} response.Response{data=model.UserProfile}
// @Failure 400 {object} response.Response
// @Router /api/v1/profile [put]
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := h.userService.UpdateProfile(c.Request.Context(), middleware.UserID(c), req.Nickname, req.AvatarURL)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, p)
}
