package controller

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nageing/nano-oj-backend/internal/contest/model"
	"github.com/nageing/nano-oj-backend/internal/contest/service"
	"github.com/nageing/nano-oj-backend/pkg/utils/response"
)

// RankingController exposes contest standings.
type RankingController struct {
	rankingService *service.RankingService
}

// NewRankingController creates a new RankingController.
func NewRankingController(rankingService *service.RankingService) *RankingController {
	return &RankingController{rankingService: rankingService}
}

// RegisterRoutes mounts the ranking endpoints on the router group.
func (h *RankingController) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/contests/:id/ranking", h.Leaderboard)
}

// Leaderboard returns the top entries for a contest.
func (h *RankingController) Leaderboard(c *gin.Context) {
	contestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || contestID <= 0 {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	entries, err := h.rankingService.Leaderboard(c.Request.Context(), contestID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	rows := make([]RankingRow, 0, len(entries))
	for i, entry := range entries {
		rows = append(rows, toRankingRow(i+1, entry))
	}
	response.Success(c, LeaderboardResponse{ContestID: contestID, Rows: rows})
}

// RankingRow is one line of the board.
type RankingRow struct {
	Rank       int                            `json:"rank"`
	UserID     int64                          `json:"user_id"`
	UserName   string                         `json:"user_name"`
	UserAvatar string                         `json:"user_avatar,omitempty"`
	Solved     int                            `json:"solved"`
	Penalty    int64                          `json:"penalty"`
	TotalScore int                            `json:"total_score"`
	Problems   map[int64]*model.ProblemResult `json:"problems"`
	UpdatedAt  string                         `json:"updated_at"`
}

// LeaderboardResponse wraps the ordered board.
type LeaderboardResponse struct {
	ContestID int64        `json:"contest_id"`
	Rows      []RankingRow `json:"rows"`
}

func toRankingRow(rank int, entry *model.RankingEntry) RankingRow {
	return RankingRow{
		Rank:       rank,
		UserID:     entry.UserID,
		UserName:   entry.UserName,
		UserAvatar: entry.UserAvatar,
		Solved:     entry.Solved,
		Penalty:    entry.Penalty,
		TotalScore: entry.TotalScore,
		Problems:   entry.Problems,
		UpdatedAt:  entry.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
