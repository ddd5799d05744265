package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"SkillMesh-Registry/pkg/logger"
)

// Receipt 记录一次信任摘要锚定的链上位置。
type Receipt struct {
	Chain       string    `json:"chain"`
	ChainID     string    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	Digest      string    `json:"digest"`
	AnchoredAt  time.Time `json:"anchored_at"`
}

// chainReader 是锚定所需的最小链访问能力，便于测试替换。
type chainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Anchorer 把每次信任重算的结果摘要与当前链头关联起来，
// 写入审计日志并返回凭据。锚定失败不阻塞重算本身。
type Anchorer struct {
	chain  string
	reader chainReader
	closer func()
	now    func() time.Time
}

// New 根据链目录中的定义拨号 RPC 并构造 Anchorer。
func New(ctx context.Context, name string, defs ChainDefinitions) (*Anchorer, error) {
	def, err := defs.Resolve(name)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, def.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接锚定节点失败: %w", err)
	}
	return &Anchorer{
		chain:  name,
		reader: client,
		closer: client.Close,
		now:    time.Now,
	}, nil
}

// newWithReader 供测试注入假的链访问实现。
func newWithReader(name string, reader chainReader) *Anchorer {
	return &Anchorer{chain: name, reader: reader, now: time.Now}
}

// Anchor 把摘要与当前链头绑定并写入审计日志。
func (a *Anchorer) Anchor(ctx context.Context, digest string) (*Receipt, error) {
	if a == nil || a.reader == nil {
		return nil, errors.New("锚定器未初始化")
	}
	if strings.TrimSpace(digest) == "" {
		return nil, errors.New("摘要不能为空")
	}

	chainID, err := a.reader.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := a.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取区块高度失败: %w", err)
	}

	receipt := &Receipt{
		Chain:       a.chain,
		ChainID:     "0x" + chainID.Text(16),
		BlockNumber: blockNumber,
		Digest:      digest,
		AnchoredAt:  a.now(),
	}
	logger.Audit().Info("trust digest anchored",
		slog.String("chain", receipt.Chain),
		slog.String("chain_id", receipt.ChainID),
		slog.Uint64("block_number", receipt.BlockNumber),
		slog.String("digest", receipt.Digest),
	)
	return receipt, nil
}

// Close 释放 RPC 连接。
func (a *Anchorer) Close() {
	if a != nil && a.closer != nil {
		a.closer()
	}
}
