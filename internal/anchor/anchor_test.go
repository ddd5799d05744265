package anchor

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

type fakeReader struct {
	chainID *big.Int
	block   uint64
}

func (f *fakeReader) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) {
	return f.block, nil
}

func TestAnchorBindsDigestToChainHead(t *testing.T) {
	anchorer := newWithReader("sepolia", &fakeReader{chainID: big.NewInt(11155111), block: 4200})

	receipt, err := anchorer.Anchor(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	if receipt.Chain != "sepolia" {
		t.Fatalf("chain: got %s", receipt.Chain)
	}
	if receipt.ChainID != "0xaa36a7" {
		t.Fatalf("chain id: got %s", receipt.ChainID)
	}
	if receipt.BlockNumber != 4200 {
		t.Fatalf("block number: got %d", receipt.BlockNumber)
	}
	if receipt.Digest != "abc123" {
		t.Fatalf("digest: got %s", receipt.Digest)
	}
}

func TestAnchorRejectsEmptyDigest(t *testing.T) {
	anchorer := newWithReader("sepolia", &fakeReader{chainID: big.NewInt(1), block: 1})
	if _, err := anchorer.Anchor(context.Background(), "  "); err == nil {
		t.Fatalf("expected empty digest to be rejected")
	}
}

func TestLoadChainDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := `chains:
  sepolia:
    type: evm
    rpc_url: https://rpc.sepolia.example
    description: test network
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入测试配置失败: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("LoadChainDefinitions: %v", err)
	}
	def, err := defs.Resolve("sepolia")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.RPCURL != "https://rpc.sepolia.example" {
		t.Fatalf("rpc url: got %s", def.RPCURL)
	}
	if _, err := defs.Resolve("mainnet"); err == nil {
		t.Fatalf("expected unknown chain to fail")
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("LoadChainDefinitions: %v", err)
	}
	if len(defs.Chains) != 0 {
		t.Fatalf("expected empty catalogue")
	}
}
