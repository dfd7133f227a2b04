package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// newID 生成系统侧实体 ID (客户端没提供幂等键时使用)
func newID() string {
	return uuid.NewString()
}

// IsNotFound 判断错误是否为 "不存在"
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// requireMutate 写授权检查，拒绝时返回 ErrAccessDenied
func requireMutate(ctx context.Context, auth Authorizer, matchID, userID, role string) error {
	ok, err := auth.CanMutate(ctx, matchID, userID, role)
	if err != nil {
		return err
	}
	if !ok {
		return NewAppError(ErrAccessDenied,
			fmt.Sprintf("user %s may not mutate match %s", userID, matchID), nil)
	}
	return nil
}

// clampSentiment 把情绪值收敛到 [-3, 3]
func clampSentiment(v int) int {
	if v < -3 {
		return -3
	}
	if v > 3 {
		return 3
	}
	return v
}

// minuteToClockMs 比赛分钟 → 计时毫秒
func minuteToClockMs(minute float64) int64 {
	return int64(minute * 60000)
}
