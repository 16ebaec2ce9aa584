package controller

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nageing/nano-oj-backend/internal/judge/model"
	"github.com/nageing/nano-oj-backend/internal/judge/repository"
	"github.com/nageing/nano-oj-backend/internal/submit/service"
	"github.com/nageing/nano-oj-backend/pkg/utils/response"
)

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	submitService *service.SubmitService
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(submitService *service.SubmitService) *SubmissionController {
	return &SubmissionController{submitService: submitService}
}

// RegisterRoutes mounts the submission endpoints on the router group.
func (h *SubmissionController) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/submissions", h.Create)
	group.GET("/submissions/:id", h.Get)
	group.GET("/submissions", h.List)
}

// Create handles submission requests.
func (h *SubmissionController) Create(c *gin.Context) {
	var req CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	id, err := h.submitService.Create(c.Request.Context(), &service.CreateRequest{
		UserID:     req.UserID,
		ProblemID:  req.ProblemID,
		ContestID:  req.ContestID,
		Language:   req.Language,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, CreateSubmissionResponse{
		SubmissionID: id,
		Status:       model.StatusPending.String(),
	})
}

// Get returns one submission.
func (h *SubmissionController) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.submitService.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionView(submission))
}

// List pages over submissions, filtered by user, problem or contest.
func (h *SubmissionController) List(c *gin.Context) {
	filter := repository.SubmissionFilter{
		UserID:    queryInt64(c, "user_id"),
		ProblemID: queryInt64(c, "problem_id"),
		ContestID: queryInt64(c, "contest_id"),
	}
	page := int(queryInt64(c, "page"))
	pageSize := int(queryInt64(c, "page_size"))

	submissions, err := h.submitService.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]SubmissionView, 0, len(submissions))
	for _, submission := range submissions {
		views = append(views, toSubmissionView(submission))
	}
	response.Success(c, ListSubmissionsResponse{Items: views})
}

func queryInt64(c *gin.Context, name string) int64 {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// CreateSubmissionRequest defines the submission payload.
type CreateSubmissionRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	ProblemID  int64  `json:"problem_id" binding:"required"`
	ContestID  int64  `json:"contest_id"`
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// CreateSubmissionResponse acknowledges an accepted submission.
type CreateSubmissionResponse struct {
	SubmissionID int64  `json:"submission_id"`
	Status       string `json:"status"`
}

// SubmissionView is the API shape of a submission. Verdict, score and
// detail may be withheld while an OI contest is running.
type SubmissionView struct {
	ID        int64              `json:"id"`
	UserID    int64              `json:"user_id"`
	ProblemID int64              `json:"problem_id"`
	ContestID int64              `json:"contest_id,omitempty"`
	Language  string             `json:"language"`
	Status    string             `json:"status"`
	Verdict   string             `json:"verdict,omitempty"`
	Score     int                `json:"score"`
	Detail    *model.JudgeDetail `json:"detail,omitempty"`
	CreatedAt string             `json:"created_at"`
}

// ListSubmissionsResponse wraps a submission page.
type ListSubmissionsResponse struct {
	Items []SubmissionView `json:"items"`
}

func toSubmissionView(submission *model.Submission) SubmissionView {
	return SubmissionView{
		ID:        submission.ID,
		UserID:    submission.UserID,
		ProblemID: submission.ProblemID,
		ContestID: submission.ContestID,
		Language:  submission.Language,
		Status:    submission.Status.String(),
		Verdict:   string(submission.Verdict),
		Score:     submission.Score,
		Detail:    submission.Detail,
		CreatedAt: submission.CreatedAt.UTC().Format(time.RFC3339),
	}
}
