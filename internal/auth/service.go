package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"SkillMesh-Registry/pkg/logger"
)

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode  Mode
	keys  map[string]*Subject
	audit *slog.Logger
}

// NewService 构造身份认证服务实例。静态模式下所有 API Key
// 来自配置注入，密钥以 SHA-256 摘要形式驻留内存。
func NewService(_ context.Context, cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:  mode,
		keys:  make(map[string]*Subject, len(cfg.Keys)),
		audit: logger.Audit(),
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeStatic:
		if len(cfg.Keys) == 0 {
			return nil, fmt.Errorf("static mode requires at least one api key")
		}
		for _, seed := range cfg.Keys {
			key := strings.TrimSpace(seed.Key)
			if key == "" {
				return nil, fmt.Errorf("api key for agent %q must not be empty", seed.AgentID)
			}
			if strings.TrimSpace(seed.AgentID) == "" {
				return nil, fmt.Errorf("api key seed missing agent id")
			}
			subject := &Subject{
				AgentID:  seed.AgentID,
				Scopes:   append([]string(nil), seed.Scopes...),
				Disabled: seed.Disabled,
			}
			subject.normalise()
			svc.keys[digestKey(key)] = subject
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回对应的主体。
func (s *Service) AuthenticateRequest(_ context.Context, header string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	key, err := extractBearer(header)
	if err != nil {
		return nil, err
	}
	digest := digestKey(key)
	for stored, subject := range s.keys {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(digest)) == 1 {
			if subject.Disabled {
				return nil, ErrSubjectRevoked
			}
			return subject.Clone(), nil
		}
	}
	return nil, ErrInvalidKey
}

// extractBearer 从 Authorization 头中取出 Bearer 凭证。
func extractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingKey
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrInvalidKey
	}
	key := strings.TrimSpace(parts[1])
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

// digestKey 返回 API Key 的十六进制 SHA-256 摘要。
func digestKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum)
}
