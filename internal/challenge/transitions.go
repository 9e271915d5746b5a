package challenge

import (
	"trophyserver/internal/apperr"
	"trophyserver/models"
)

type operation string

const (
	opAccept            operation = "accept"
	opDecline           operation = "decline"
	opRequestCompletion operation = "request completion of"
	opConfirmCompletion operation = "confirm completion of"
	opRejectCompletion  operation = "reject completion of"
	opComplete          operation = "complete"
)

type role int

const (
	roleOpponent role = iota
	roleParticipant
)

// rule は1つの操作について、許可される遷移元・遷移先・実行できる人を表す
// resume が true の場合、遷移先は to ではなく ResumeStatus になる
type rule struct {
	from   []models.ChallengeStatus
	to     models.ChallengeStatus
	resume bool
	actor  role
}

// 表にない遷移はすべて拒否する
var transitions = map[operation]rule{
	opAccept: {
		from:  []models.ChallengeStatus{models.ChallengeProposed},
		to:    models.ChallengeAccepted,
		actor: roleOpponent,
	},
	opDecline: {
		from:  []models.ChallengeStatus{models.ChallengeProposed},
		to:    models.ChallengeDeclined,
		actor: roleOpponent,
	},
	opRequestCompletion: {
		from:  []models.ChallengeStatus{models.ChallengeAccepted, models.ChallengeActive},
		to:    models.ChallengeCompletionRequested,
		actor: roleParticipant,
	},
	opConfirmCompletion: {
		from:  []models.ChallengeStatus{models.ChallengeCompletionRequested},
		to:    models.ChallengeCompleted,
		actor: roleParticipant,
	},
	opRejectCompletion: {
		from:   []models.ChallengeStatus{models.ChallengeCompletionRequested},
		resume: true,
		actor:  roleParticipant,
	},
	opComplete: {
		from:  []models.ChallengeStatus{models.ChallengeAccepted, models.ChallengeActive},
		to:    models.ChallengeCompleted,
		actor: roleParticipant,
	},
}

func (r rule) allows(status models.ChallengeStatus) bool {
	for _, s := range r.from {
		if s == status {
			return true
		}
	}
	return false
}

func (r rule) authorize(fc *models.FriendChallenge, callerID uint) error {
	switch r.actor {
	case roleOpponent:
		if fc.OpponentID != callerID {
			return apperr.Authorization("only the opponent can answer a proposed challenge")
		}
	default:
		if !fc.IsParticipant(callerID) {
			return apperr.Authorization("not a participant of this challenge")
		}
	}
	return nil
}

// target は遷移先の状態を返す。完了申請の却下では申請前の状態に戻る
func (r rule) target(fc *models.FriendChallenge) models.ChallengeStatus {
	if !r.resume {
		return r.to
	}
	if fc.ResumeStatus == models.ChallengeActive {
		return models.ChallengeActive
	}
	return models.ChallengeAccepted
}
