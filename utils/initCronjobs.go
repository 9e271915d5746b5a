package utils

import (
	"context"
	"time"

	"trophyserver/internal/challenge"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// EscrowAuditor はエスクローの集計を返す
type EscrowAuditor interface {
	AuditEscrow(ctx context.Context) (*challenge.EscrowAudit, error)
}

// RunEscrowAudit は監査を1回実行し、不整合があれば Warn を出します。
func RunEscrowAudit(auditor EscrowAuditor, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	logger.Info("エスクロー監査を開始")
	audit, err := auditor.AuditEscrow(ctx)
	if err != nil {
		logger.Error("エスクロー監査に失敗しました", zap.Error(err))
		return
	}
	if len(audit.Anomalies) > 0 {
		logger.Warn("終端状態のチャレンジにエスクローが残っています",
			zap.Uints("challengeIDs", audit.Anomalies))
	}
	logger.Info("エスクロー監査完了",
		zap.Int64("openEscrows", audit.OpenEscrows),
		zap.Int64("pooledTrophies", audit.PooledTrophies))
}

// StartEscrowAudit は schedule（"分 時 日 月 曜日" または "@daily" 等）で監査ジョブを登録して開始します。
func StartEscrowAudit(auditor EscrowAuditor, schedule string, logger *zap.Logger) (*cron.Cron, error) {
	if schedule == "" {
		schedule = "@daily"
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { RunEscrowAudit(auditor, logger) }); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
