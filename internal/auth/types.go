package auth

import (
	"errors"
	"fmt"
	"strings"
)

// 身份认证子系统返回的通用错误。
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidKey       = errors.New("invalid api key")
	ErrMissingKey       = errors.New("missing bearer key")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("subject is disabled")
)

// Scope 枚举 API 主体可持有的访问范围。
type Scope = string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// Subject 描述通过 API Key 认证的调用方，并随请求上下文传递。
type Subject struct {
	AgentID  string
	Scopes   []string
	Disabled bool

	scopeSet map[string]struct{}
}

// normalise 构建范围检查所需的查找集合。
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.scopeSet == nil {
		s.scopeSet = make(map[string]struct{}, len(s.Scopes))
		for _, scope := range s.Scopes {
			s.scopeSet[strings.ToLower(strings.TrimSpace(scope))] = struct{}{}
		}
	}
}

// HasScope 报告主体是否持有指定访问范围。admin 隐含其余所有范围。
func (s *Subject) HasScope(scope string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.scopeSet[ScopeAdmin]; ok {
		return true
	}
	_, ok := s.scopeSet[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}

// Authorize 校验主体持有全部所需范围。
func (s *Subject) Authorize(scopes ...string) error {
	if s == nil {
		return ErrInvalidKey
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if !s.HasScope(scope) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, scope)
		}
	}
	return nil
}

// Clone 创建主体的浅拷贝，便于安全地放入请求上下文。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		AgentID:  s.AgentID,
		Scopes:   append([]string(nil), s.Scopes...),
		Disabled: s.Disabled,
	}
	clone.normalise()
	return clone
}

// Config 配置身份认证服务。
type Config struct {
	Mode Mode
	Keys []KeySeed
}

// Mode 枚举支持的认证方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeStatic   Mode = "static"
)

// KeySeed 定义启动时注入的静态 API Key 及其绑定主体。
type KeySeed struct {
	Key      string
	AgentID  string
	Scopes   []string
	Disabled bool
}
