package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatsync/internal/models"
	"chatsync/internal/services"
)

// RankingHandler 提供排行榜和奖励配置的只读接口。
type RankingHandler struct {
	rankingService services.RankingService
}

func NewRankingHandler(rankingService services.RankingService) *RankingHandler {
	return &RankingHandler{rankingService: rankingService}
}

// RankingsResponse 是某个周期的排行榜以及该周期的奖励（未配置时为空）。
type RankingsResponse struct {
	Period  models.PeriodType     `json:"period"`
	Entries []models.RankingEntry `json:"entries"`
	Prize   *models.CoinPrize     `json:"prize,omitempty"`
}

func (h *RankingHandler) GetRankings(w http.ResponseWriter, r *http.Request) {
	period := models.PeriodType(mux.Vars(r)["period"])
	entries, err := h.rankingService.Rankings(r.Context(), period)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	resp := RankingsResponse{Period: period, Entries: entries}
	if prize, err := h.rankingService.Prize(r.Context(), period); err == nil {
		resp.Prize = prize
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *RankingHandler) ListPrizes(w http.ResponseWriter, r *http.Request) {
	prizes, err := h.rankingService.Prizes(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, prizes)
}
