package badge

import (
	xerrors "SkillMesh-Registry/internal/errors"
)

// Level 表示某个领域内的信任层级。
type Level string

const (
	LevelBronze    Level = "bronze"
	LevelSilver    Level = "silver"
	LevelGold      Level = "gold"
	LevelAuthority Level = "authority"
)

// IsValidLevel 检查层级是否为支持的枚举值。
func IsValidLevel(level Level) bool {
	switch level {
	case LevelBronze, LevelSilver, LevelGold, LevelAuthority:
		return true
	default:
		return false
	}
}

// IsCertifiableLevel 返回层级是否只能经由社区认证投票授予。
func IsCertifiableLevel(level Level) bool {
	return level == LevelGold || level == LevelAuthority
}

// 授予来源。gold/authority 仅由社区投票产生，bronze/silver 由系统自动授予。
const (
	GrantedBySystem        = "system"
	GrantedByCommunityVote = "community-vote"
)

// Badge 表示一次不可撤销的层级授予。(AgentID, Domain, Level) 全局唯一。
type Badge struct {
	ID        string `json:"badge_id"`
	AgentID   string `json:"agent_id"`
	Domain    string `json:"domain"`
	Level     Level  `json:"level"`
	GrantedAt int64  `json:"granted_at"`
	GrantedBy string `json:"granted_by"`
}

// DefaultDomain 是计数器自动授予所使用的领域。
const DefaultDomain = "general"

// 自动授予阈值。
const (
	BronzeContributions = 10
	SilverContributions = 50
	SilverValidations   = 20
)

const (
	CodeInvalidLevel xerrors.Code = "BADGE_INVALID_LEVEL"
)

func init() {
	xerrors.Register(CodeInvalidLevel, xerrors.Attributes{
		Message:   "invalid badge level",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
