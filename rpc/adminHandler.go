package rpc

import (
	"encoding/csv"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Service) HandleStats(c *gin.Context) {
	stats, err := s.store.CollectStats(c.Request.Context())
	if err != nil {
		zap.S().Errorw("collect stats", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Service) HandleFineTuneData(c *gin.Context) {
	records, err := s.store.FineTuneRecords(c.Request.Context())
	if err != nil {
		zap.S().Errorw("list fine-tune records", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list records"})
		return
	}
	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		out = append(out, gin.H{
			"id":            r.Id,
			"user_query":    r.UserQuery,
			"chosen_answer": r.ChosenAnswer,
			"model_used":    r.ModelUsed,
			"user_id":       r.UserId,
			"timestamp":     r.Timestamp,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Service) HandleExportCsv(c *gin.Context) {
	records, err := s.store.FineTuneRecords(c.Request.Context())
	if err != nil {
		zap.S().Errorw("export fine-tune records", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export records"})
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=fine_tune_data.csv")
	w := csv.NewWriter(c.Writer)
	w.Write([]string{"ID", "User Query", "Chosen Answer", "Model Used", "User ID", "Timestamp"})
	for _, r := range records {
		w.Write([]string{r.Id, r.UserQuery, r.ChosenAnswer, r.ModelUsed, r.UserId, r.Timestamp.Format("2006-01-02T15:04:05Z07:00")})
	}
	w.Flush()
}
