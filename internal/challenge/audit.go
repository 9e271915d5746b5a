package challenge

import (
	"context"
	"fmt"

	"trophyserver/models"
)

// EscrowAudit はエスクロー中のトロフィーの集計結果
type EscrowAudit struct {
	OpenEscrows    int64 `json:"openEscrows"`
	PooledTrophies int64 `json:"pooledTrophies"`
	// 終端状態なのに escrowed=true のまま残っているチャレンジ
	Anomalies []uint `json:"anomalies"`
}

// AuditEscrow は払い出し待ちのプールを集計し、不整合な行を検出します。
func (l *Ledger) AuditEscrow(ctx context.Context) (*EscrowAudit, error) {
	db := l.db.WithContext(ctx)

	var totals struct {
		Count int64
		Stake int64
	}
	err := db.Model(&models.FriendChallenge{}).
		Select("COUNT(*) AS count, COALESCE(SUM(trophies_stake), 0) AS stake").
		Where("escrowed = ?", true).
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("sum escrowed stakes: %w", err)
	}

	audit := &EscrowAudit{
		OpenEscrows:    totals.Count,
		PooledTrophies: 2 * totals.Stake,
		Anomalies:      []uint{},
	}
	err = db.Model(&models.FriendChallenge{}).
		Where("escrowed = ? AND status IN ?", true, []models.ChallengeStatus{
			models.ChallengeCompleted, models.ChallengeDeclined, models.ChallengeExpired,
		}).
		Order("id").
		Pluck("id", &audit.Anomalies).Error
	if err != nil {
		return nil, fmt.Errorf("find escrow anomalies: %w", err)
	}
	return audit, nil
}
