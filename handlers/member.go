package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ecclesia-org/ecclesia/authz"
	"github.com/ecclesia-org/ecclesia/db"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/role"
	"github.com/ecclesia-org/ecclesia/services"
	"github.com/ecclesia-org/ecclesia/session"
)

type MemberHandler struct {
	Directory  MemberDirectory
	Membership MembershipManager
	Authz      *authz.Middleware
}

func NewMemberHandler(directory MemberDirectory, membership MembershipManager, mw *authz.Middleware) *MemberHandler {
	return &MemberHandler{Directory: directory, Membership: membership, Authz: mw}
}

// Dashboard summarizes who the caller is and what waits for them
func (h *MemberHandler) Dashboard(c *gin.Context) {
	sess := session.FromContext(c)
	body := gin.H{
		"user_id":       sess.UserID,
		"role":          sess.Role,
		"role_display":  sess.Role.DisplayName(),
		"scope_level":   sess.Role.ScopeLevel(),
		"scope_id":      sess.ScopeID(),
		"impersonating": sess.Impersonating,
	}
	if sess.Impersonating {
		body["original_user_id"] = sess.OriginalUserID
		body["original_role_display"] = sess.OriginalRole.DisplayName()
	}
	if sess.Role.IsAdmin() {
		n, err := h.Directory.CountPending(c.Request.Context(), sess)
		if err != nil {
			logging.Error().Err(err).Msg("failed to count pending approvals")
		}
		body["pending_approvals"] = n
	}
	c.JSON(http.StatusOK, body)
}

// ListMembers lists the members visible to the caller
func (h *MemberHandler) ListMembers(c *gin.Context) {
	sess := session.FromContext(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	users, err := h.Directory.ListVisible(c.Request.Context(), sess, db.ListMembersFilter{
		Status: c.Query("status"),
		Search: c.Query("q"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		logging.Error().Err(err).Msg("failed to list members")
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": users, "total": len(users)})
}

// GetMember returns one member. The route guard has already checked scope.
func (h *MemberHandler) GetMember(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	u, err := h.Directory.Find(c.Request.Context(), id)
	if errors.Is(err, services.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Member not found"})
		return
	}
	if err != nil {
		logging.Error().Err(err).Int64("user_id", id).Msg("failed to load member")
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, u)
}

// PendingApprovals lists registrations awaiting approval in the caller's scope
func (h *MemberHandler) PendingApprovals(c *gin.Context) {
	users, err := h.Directory.PendingApprovals(c.Request.Context(), session.FromContext(c))
	if err != nil {
		logging.Error().Err(err).Msg("failed to list pending approvals")
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": users, "total": len(users)})
}

// ChangeStatus approves, rejects or suspends a member
func (h *MemberHandler) ChangeStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req db.ChangeStatusRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Status is required")
		return
	}

	sess := session.FromContext(c)
	u, err := h.Membership.ChangeStatus(c.Request.Context(), sess, id, req.Status, req.Reason, c.Request.URL.Path)
	if err != nil {
		h.membershipError(c, sess, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// ChangeRole promotes or demotes a member
func (h *MemberHandler) ChangeRole(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req db.ChangeRoleRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Role is required")
		return
	}

	sess := session.FromContext(c)
	u, err := h.Membership.ChangeRole(c.Request.Context(), sess, id, role.Parse(req.Role), req.Reason, c.Request.URL.Path)
	if err != nil {
		h.membershipError(c, sess, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *MemberHandler) membershipError(c *gin.Context, sess *session.Session, err error) {
	switch {
	case errors.Is(err, authz.ErrPermissionDenied), errors.Is(err, authz.ErrLoginRequired):
		if errors.Is(err, services.ErrCannotManage) {
			err = &authz.DeniedError{Reason: "You can only manage members below your own role."}
		}
		h.Authz.Deny(c, sess, err)
	case errors.Is(err, services.ErrInvalidStatus):
		badRequest(c, "Unknown status")
	case errors.Is(err, services.ErrInvalidRole):
		badRequest(c, "Unknown role")
	case errors.Is(err, services.ErrMissingPlacement):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "missing_placement",
			"message": "The member is not placed in the organization unit that role administers.",
		})
	case errors.Is(err, services.ErrUserNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Member not found"})
	default:
		logging.Error().Err(err).Msg("membership change failed")
		internalError(c)
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid id")
		return 0, false
	}
	return id, true
}
