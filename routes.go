package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"journal-desk/app"
	"journal-desk/errs"
	"journal-desk/models"
	"journal-desk/services/decision"
	"journal-desk/services/invitation"
	"journal-desk/services/lifecycle"
	"journal-desk/services/quality"
)

// statusFor bildet die Fehlertaxonomie auf HTTP-Status ab.
func statusFor(err error) int {
	var ineligible *errs.IneligibleReviewerError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusForbidden
	case errors.As(err, &ineligible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrInvalidTransition),
		errors.Is(err, errs.ErrPreconditionNotMet),
		errors.Is(err, errs.ErrAlreadyResponded),
		errors.Is(err, errs.ErrOverrideExists),
		errors.Is(err, errs.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, log *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func setupRoutes(router *gin.Engine, a *app.App) {
	api := router.Group("/api", authMiddleware(a.Config.JWTSecret))
	editor := requireRole(a.Roles, models.RoleEditor)
	admin := requireRole(a.Roles, models.RoleAdmin)

	setupManuscriptRoutes(api, a, editor, admin)
	setupInvitationRoutes(api, a, editor)
	setupQualityRoutes(api, a, editor)
	setupDecisionRoutes(api, a, editor)
}

func setupManuscriptRoutes(api *gin.RouterGroup, a *app.App, editor, admin gin.HandlerFunc) {
	log := a.Logger.Named("http")
	rg := api.Group("/manuscripts/:id")

	rg.POST("/submit", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		res, err := a.Lifecycle.Submit(c.Request.Context(), id, actor(c))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	rg.POST("/editor", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			EditorID uint `json:"editor_id" binding:"required"`
		}
		if !bind(c, &req) {
			return
		}
		res, err := a.Lifecycle.AssignEditor(c.Request.Context(), id, req.EditorID, actor(c))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	rg.POST("/transitions", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			Target models.ManuscriptStatus `json:"target" binding:"required"`
			Note   string                  `json:"note"`
		}
		if !bind(c, &req) {
			return
		}
		res, err := a.Lifecycle.TransitionWithRetry(c.Request.Context(), lifecycle.Request{
			ManuscriptID: id, Target: req.Target, ActorID: actor(c), Note: req.Note,
		})
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	rg.GET("/timeline", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		entries, err := a.Lifecycle.Timeline(c.Request.Context(), id)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	})

	rg.GET("/eligibility", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var reviewerIDs []uint
		for _, part := range strings.Split(c.Query("reviewer_ids"), ",") {
			v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil || v == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "reviewer_ids must be a comma separated list of ids"})
				return
			}
			reviewerIDs = append(reviewerIDs, uint(v))
		}
		res, err := a.Conflicts.Evaluate(c.Request.Context(), id, reviewerIDs)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	rg.POST("/overrides", admin, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			ReviewerID uint   `json:"reviewer_id" binding:"required"`
			Reason     string `json:"reason" binding:"required"`
		}
		if !bind(c, &req) {
			return
		}
		o, err := a.Conflicts.CreateOverride(c.Request.Context(), id, req.ReviewerID, req.Reason, actor(c))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, o)
	})

	rg.GET("/overrides", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		list, err := a.Conflicts.Overrides(c.Request.Context(), id)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})
}

type deadlines struct {
	ReviewDeadline   time.Time `json:"review_deadline" binding:"required"`
	ResponseDeadline time.Time `json:"response_deadline" binding:"required"`
}

func setupInvitationRoutes(api *gin.RouterGroup, a *app.App, editor gin.HandlerFunc) {
	log := a.Logger.Named("http")

	api.POST("/manuscripts/:id/invitations", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			deadlines
			ReviewerIDs          []uint `json:"reviewer_ids" binding:"required,min=1"`
			Staggered            bool   `json:"staggered"`
			StaggerIntervalHours int    `json:"stagger_interval_hours"`
		}
		if !bind(c, &req) {
			return
		}
		batch, err := a.Invitations.SendInvitations(c.Request.Context(), id, req.ReviewerIDs,
			req.ReviewDeadline, req.ResponseDeadline, invitation.Options{
				InvitedBy:            actor(c),
				Staggered:            req.Staggered,
				StaggerIntervalHours: req.StaggerIntervalHours,
			})
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, batch)
	})

	api.GET("/manuscripts/:id/invitations", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		list, err := a.Invitations.List(c.Request.Context(), id)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	rg := api.Group("/invitations/:id")
	rg.POST("/response", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			Decision             invitation.Decision `json:"decision" binding:"required"`
			DeclineReason        string              `json:"decline_reason"`
			SuggestedAlternative string              `json:"suggested_alternative"`
		}
		if !bind(c, &req) {
			return
		}
		res, err := a.Invitations.Respond(c.Request.Context(), id, actor(c), invitation.Response{
			Decision:             req.Decision,
			DeclineReason:        req.DeclineReason,
			SuggestedAlternative: req.SuggestedAlternative,
		})
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	rg.POST("/withdraw", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		inv, err := a.Invitations.Withdraw(c.Request.Context(), id, actor(c))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	})

	rg.POST("/reassign", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			ReplacementReviewerID uint      `json:"replacement_reviewer_id"`
			ReviewDeadline        time.Time `json:"review_deadline"`
			ResponseDeadline      time.Time `json:"response_deadline"`
		}
		if !bind(c, &req) {
			return
		}
		res, err := a.Invitations.Reassign(c.Request.Context(), id, actor(c), req.ReplacementReviewerID, req.ReviewDeadline, req.ResponseDeadline)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	api.POST("/assignments/:id/start", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		asg, err := a.Invitations.StartReview(c.Request.Context(), id, actor(c))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, asg)
	})

	api.POST("/assignments/:id/review", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			Body           string                `json:"body" binding:"required"`
			Recommendation models.Recommendation `json:"recommendation" binding:"required"`
		}
		if !bind(c, &req) {
			return
		}
		review, err := a.Invitations.SubmitReview(c.Request.Context(), id, actor(c), invitation.Submission{
			Body: req.Body, Recommendation: req.Recommendation,
		})
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, review)
	})
}

func setupQualityRoutes(api *gin.RouterGroup, a *app.App, editor gin.HandlerFunc) {
	log := a.Logger.Named("http")

	reviews := api.Group("/reviews/:id", editor)
	reviews.POST("/analysis", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			JobType  models.JobType `json:"job_type" binding:"required"`
			Priority int            `json:"priority"`
		}
		if !bind(c, &req) {
			return
		}
		requestedBy := actor(c)
		jobID, err := a.Quality.QueueAnalysis(c.Request.Context(), id, req.JobType, req.Priority, &requestedBy)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
	})

	reviews.GET("/quality", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		report, err := a.Quality.Report(c.Request.Context(), id)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	reviews.POST("/feedback", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			Rating int      `json:"rating" binding:"required"`
			Notes  string   `json:"notes"`
			Flags  []string `json:"flags"`
		}
		if !bind(c, &req) {
			return
		}
		res, err := a.Quality.SubmitEditorFeedback(c.Request.Context(), id, actor(c), quality.Feedback{
			Rating: req.Rating, Notes: req.Notes, Flags: req.Flags,
		})
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	jobs := api.Group("/quality/jobs", editor)
	jobs.GET("/parked", func(c *gin.Context) {
		list, err := a.Quality.ParkedJobs(c.Request.Context())
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})
	jobs.GET("/:jobID", func(c *gin.Context) {
		job, err := a.Quality.Job(c.Request.Context(), c.Param("jobID"))
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, job)
	})
	jobs.DELETE("/:jobID", func(c *gin.Context) {
		if err := a.Quality.Cancel(c.Request.Context(), c.Param("jobID")); err != nil {
			fail(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
	jobs.POST("/:jobID/requeue", func(c *gin.Context) {
		if err := a.Quality.Requeue(c.Request.Context(), c.Param("jobID")); err != nil {
			fail(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	reviewers := api.Group("/reviewers/:id", editor)
	reviewers.GET("/stats", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		st, err := a.Quality.Stats(c.Request.Context(), id)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})
	reviewers.GET("/training", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		list, err := a.Quality.TrainingTasks(c.Request.Context(), id)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})
	reviewers.GET("/badges", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		list, err := a.Quality.Badges(c.Request.Context(), id)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	api.POST("/training/:id/complete", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		if err := a.Quality.CompleteTraining(c.Request.Context(), id); err != nil {
			fail(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func setupDecisionRoutes(api *gin.RouterGroup, a *app.App, editor gin.HandlerFunc) {
	log := a.Logger.Named("http")

	api.POST("/manuscripts/:id/decisions", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			Decision           models.DecisionType `json:"decision" binding:"required"`
			Letter             string              `json:"letter"`
			ProductionEditorID uint                `json:"production_editor_id"`
			PublishAt          *time.Time          `json:"publish_at"`
		}
		if !bind(c, &req) {
			return
		}
		out, err := a.Decisions.RecordDecision(c.Request.Context(), decision.Request{
			ManuscriptID:       id,
			EditorID:           actor(c),
			Decision:           req.Decision,
			Letter:             req.Letter,
			ProductionEditorID: req.ProductionEditorID,
			PublishAt:          req.PublishAt,
		})
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	})

	api.GET("/manuscripts/:id/decisions", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		list, err := a.Decisions.Decisions(c.Request.Context(), id)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	api.GET("/decisions/:id/actions", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		logs, err := a.Decisions.ActionLog(c.Request.Context(), id)
		if err != nil {
			fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, logs)
	})

	api.POST("/decisions/:id/actions/:action", editor, func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		action := models.ActionType(c.Param("action"))
		if !action.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
			return
		}
		var req struct {
			ProductionEditorID uint       `json:"production_editor_id"`
			PublishAt          *time.Time `json:"publish_at"`
		}
		if c.Request.ContentLength > 0 && !bind(c, &req) {
			return
		}
		d, err := a.Store.GetDecision(c.Request.Context(), id)
		if err != nil {
			fail(c, log, err)
			return
		}
		ok = a.Decisions.ExecuteAction(c.Request.Context(), action, decision.ActionData{
			DecisionID:         d.ID,
			ManuscriptID:       d.ManuscriptID,
			ProductionEditorID: req.ProductionEditorID,
			PublishAt:          req.PublishAt,
		})
		c.JSON(http.StatusOK, gin.H{"action": action, "success": ok})
	})
}
