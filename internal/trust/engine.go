package trust

import (
	"math"
	"sort"

	"SkillMesh-Registry/internal/reputation"
)

// 引擎默认参数。阻尼系数与预信任向量在可见行为中未被唯一确定，
// 这里选择显式记录的默认值：均匀预信任、阻尼 0.10。
const (
	DefaultDamping       = 0.10
	DefaultEpsilon       = 1e-6
	DefaultMaxIterations = 100
)

// Config 描述一次全局信任计算的参数。
type Config struct {
	// Damping 是传送（teleportation）系数 a，保证收敛并限制
	// 合谋子图对自身的影响上限。
	Damping float64
	// Epsilon 是相邻两轮迭代的 L1 距离阈值。
	Epsilon float64
	// MaxIterations 是迭代上限，保证计算总能终止。
	MaxIterations int
	// PreTrusted 列出预信任智能体。非空时预信任向量均匀分布在
	// 该子集与投票图的交集上，否则均匀分布在全部节点上。
	PreTrusted []string
}

func (c *Config) applyDefaults() {
	if c.Damping <= 0 || c.Damping >= 1 {
		c.Damping = DefaultDamping
	}
	if c.Epsilon <= 0 {
		c.Epsilon = DefaultEpsilon
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
}

// Result 是一次全局信任计算的输出。
type Result struct {
	// Scores 是归一化的全局信任向量，所有分量之和为 1。
	Scores map[string]float64 `json:"scores"`
	// Iterations 是实际执行的迭代轮数。
	Iterations int `json:"iterations"`
	// Converged 标记是否在迭代上限内满足收敛判据。未收敛的结果
	// 依然可用，因此不作为错误返回。
	Converged bool `json:"converged"`
}

// Engine 将同行校验投票日志转化为全局信任向量（EigenTrust 风格）。
// 计算对投票日志只读，给定同一份投票集合结果确定。
type Engine struct {
	cfg Config
}

// NewEngine 构造信任传播引擎。
func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg}
}

// Compute 执行幂迭代 t' = (1−a)·Cᵀ·t + a·p。
// 节点集合取自投票中出现过的 validator 与 target；
// 未知或悬空的 ID 按普通节点处理，恶意构造的输入不会引发错误。
func (e *Engine) Compute(votes []reputation.ValidationVote) Result {
	nodes := collectNodes(votes)
	n := len(nodes)
	if n == 0 {
		return Result{Scores: map[string]float64{}, Iterations: 0, Converged: true}
	}

	index := make(map[string]int, n)
	for i, id := range nodes {
		index[id] = i
	}

	// 本地信任 s_ij = max(0, 有效票数 − 无效票数)。负的净信任不产生
	// 反向扣减，只是不贡献权重。
	net := make([][]float64, n)
	for i := range net {
		net[i] = make([]float64, n)
	}
	for _, vote := range votes {
		i, ok := index[vote.ValidatorID]
		if !ok {
			continue
		}
		j, ok := index[vote.TargetID]
		if !ok {
			continue
		}
		if vote.Valid {
			net[i][j]++
		} else {
			net[i][j]--
		}
	}

	pre := e.preTrustVector(nodes, index)

	// 行归一化。没有任何正向外部信任的行整体替换为预信任分布，
	// 避免除零，也防止孤立节点冻结传播。
	c := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, n)
		var sum float64
		for j := 0; j < n; j++ {
			v := net[i][j]
			if v < 0 {
				v = 0
			}
			row[j] = v
			sum += v
		}
		if sum == 0 {
			copy(row, pre)
		} else {
			for j := 0; j < n; j++ {
				row[j] /= sum
			}
		}
		c[i] = row
	}

	t := make([]float64, n)
	for i := range t {
		t[i] = 1.0 / float64(n)
	}

	a := e.cfg.Damping
	next := make([]float64, n)
	iterations := 0
	converged := false
	for iterations < e.cfg.MaxIterations {
		for j := 0; j < n; j++ {
			var acc float64
			for i := 0; i < n; i++ {
				acc += c[i][j] * t[i]
			}
			next[j] = (1-a)*acc + a*pre[j]
		}
		iterations++

		var dist float64
		for i := 0; i < n; i++ {
			dist += math.Abs(next[i] - t[i])
		}
		t, next = next, t
		if dist < e.cfg.Epsilon {
			converged = true
			break
		}
	}

	scores := make(map[string]float64, n)
	for i, id := range nodes {
		scores[id] = t[i]
	}
	return Result{Scores: scores, Iterations: iterations, Converged: converged}
}

// preTrustVector 构造预信任向量 p。
func (e *Engine) preTrustVector(nodes []string, index map[string]int) []float64 {
	n := len(nodes)
	pre := make([]float64, n)

	trusted := make([]int, 0, len(e.cfg.PreTrusted))
	seen := make(map[int]struct{}, len(e.cfg.PreTrusted))
	for _, id := range e.cfg.PreTrusted {
		if i, ok := index[id]; ok {
			if _, dup := seen[i]; !dup {
				seen[i] = struct{}{}
				trusted = append(trusted, i)
			}
		}
	}
	if len(trusted) == 0 {
		for i := range pre {
			pre[i] = 1.0 / float64(n)
		}
		return pre
	}
	share := 1.0 / float64(len(trusted))
	for _, i := range trusted {
		pre[i] = share
	}
	return pre
}

// collectNodes 返回去重并排序后的节点集合，保证计算顺序确定。
func collectNodes(votes []reputation.ValidationVote) []string {
	set := make(map[string]struct{}, len(votes)*2)
	for _, vote := range votes {
		if vote.ValidatorID != "" {
			set[vote.ValidatorID] = struct{}{}
		}
		if vote.TargetID != "" {
			set[vote.TargetID] = struct{}{}
		}
	}
	nodes := make([]string, 0, len(set))
	for id := range set {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	return nodes
}
