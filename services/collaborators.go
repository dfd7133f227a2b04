package services

import "context"

// Authorizer 写权限协作方：判断用户能否修改某场比赛
type Authorizer interface {
	CanMutate(ctx context.Context, matchID, userID, role string) (bool, error)
}

// QuotaChecker 配额协作方：在事件创建/类型变更前做前置检查，
// 拒绝时返回 ErrQuotaExceeded
type QuotaChecker interface {
	Check(ctx context.Context, userID, role, matchID, eventKind string) error
}

// PositionClassifier 场上坐标 → 位置代码。坐标范围 [0,100]×[0,100]，
// y 轴从本方球门 (0) 指向对方球门 (100)
type PositionClassifier interface {
	Classify(x, y float64) string
}

// CreatorAuthorizer 默认授权实现：比赛创建者或高权限角色可写
type CreatorAuthorizer struct {
	store Store
}

func NewCreatorAuthorizer(store Store) *CreatorAuthorizer {
	return &CreatorAuthorizer{store: store}
}

func (a *CreatorAuthorizer) CanMutate(ctx context.Context, matchID, userID, role string) (bool, error) {
	if role == "admin" {
		return true, nil
	}

	match, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return false, err
	}

	return match.CreatedBy == userID, nil
}

// UnlimitedQuota 默认配额实现：不限制
type UnlimitedQuota struct{}

func (UnlimitedQuota) Check(ctx context.Context, userID, role, matchID, eventKind string) error {
	return nil
}

// GridClassifier 默认位置分类实现：按纵深分带，边路位置看 x 坐标
type GridClassifier struct{}

func (GridClassifier) Classify(x, y float64) string {
	switch {
	case y < 8:
		return "GK"
	case y < 30:
		if x < 25 {
			return "LB"
		}
		if x > 75 {
			return "RB"
		}
		return "CB"
	case y < 45:
		return "CDM"
	case y < 60:
		if x < 25 {
			return "LM"
		}
		if x > 75 {
			return "RM"
		}
		return "CM"
	case y < 75:
		return "CAM"
	default:
		if x < 25 {
			return "LW"
		}
		if x > 75 {
			return "RW"
		}
		return "ST"
	}
}

// LineGroup 位置代码 → 阵型行分组，用于生成 "4-3-3" 这类阵型标签。
// 未知代码归入中场
func LineGroup(position string) string {
	switch position {
	case "GK":
		return "gk"
	case "CB", "LB", "RB", "LWB", "RWB", "SW":
		return "defense"
	case "CDM", "DM":
		return "defensive_mid"
	case "CM", "LM", "RM":
		return "mid"
	case "CAM", "AM":
		return "attacking_mid"
	case "ST", "CF", "LW", "RW", "SS":
		return "forward"
	default:
		return "mid"
	}
}
