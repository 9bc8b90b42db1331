package speaker

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/BaSui01/perspectra/types"
)

// Config tunes the rule-based policy. Zero fields fall back to DefaultConfig.
type Config struct {
	// ModeratorEvery 主持人至少每 N 个自主发言出现一次
	ModeratorEvery int `json:"moderator_every" yaml:"moderator_every"`
	// ClaimGap 事实声明触发主持人前，距上次主持人发言的最少消息数
	ClaimGap int `json:"claim_gap" yaml:"claim_gap"`
	// DevilCooldown 魔鬼代言人两次发言之间的最少自主发言数
	DevilCooldown int `json:"devil_cooldown" yaml:"devil_cooldown"`
	ThinkerWeight int   `json:"thinker_weight" yaml:"thinker_weight"`
	DevilWeight   int   `json:"devil_weight" yaml:"devil_weight"`
	Seed          int64 `json:"seed" yaml:"seed"`
}

// DefaultConfig returns the standard boardroom cadence.
func DefaultConfig() Config {
	return Config{
		ModeratorEvery: 4,
		ClaimGap:       2,
		DevilCooldown:  4,
		ThinkerWeight:  3,
		DevilWeight:    1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ModeratorEvery < 2 {
		c.ModeratorEvery = d.ModeratorEvery
	}
	if c.ClaimGap <= 0 {
		c.ClaimGap = d.ClaimGap
	}
	if c.DevilCooldown <= 0 {
		c.DevilCooldown = d.DevilCooldown
	}
	if c.ThinkerWeight <= 0 {
		c.ThinkerWeight = d.ThinkerWeight
	}
	if c.DevilWeight <= 0 {
		c.DevilWeight = d.DevilWeight
	}
	return c
}

// Policy is the default speaker selection rule set. It is pure: the same
// history, round and seed always yield the same persona.
type Policy struct {
	cfg    Config
	claims ClaimDetector
}

// Option configures a Policy.
type Option func(*Policy)

// WithClaimDetector replaces the heuristic used to bias toward the moderator.
func WithClaimDetector(d ClaimDetector) Option {
	return func(p *Policy) {
		if d != nil {
			p.claims = d
		}
	}
}

// New creates a Policy.
func New(cfg Config, opts ...Option) *Policy {
	p := &Policy{
		cfg:    cfg.withDefaults(),
		claims: HeuristicClaimDetector{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Select picks the next autonomous speaker. It never returns PersonaUser.
func (p *Policy) Select(history []types.Message, round int, topicFocus string) types.PersonaType {
	stats := summarize(history)
	if stats.total == 0 {
		return types.PersonaFastThinker
	}

	// 周期性事实核查
	if stats.last != types.PersonaModerator && stats.sinceModerator >= p.cfg.ModeratorEvery-1 {
		return types.PersonaModerator
	}

	if stats.last != types.PersonaModerator &&
		stats.sinceModerator >= p.cfg.ClaimGap &&
		len(history) > 0 &&
		p.claims.HasClaim(history[len(history)-1].Content) {
		return types.PersonaModerator
	}

	candidates := p.candidates(stats)
	return p.pick(candidates, history, round)
}

type weighted struct {
	persona types.PersonaType
	weight  int
}

func (p *Policy) candidates(s historyStats) []weighted {
	out := make([]weighted, 0, 3)
	for _, t := range []types.PersonaType{types.PersonaFastThinker, types.PersonaAnalyticalThinker} {
		if t != s.last {
			out = append(out, weighted{persona: t, weight: p.cfg.ThinkerWeight})
		}
	}

	minThinker := s.counts[types.PersonaFastThinker]
	if c := s.counts[types.PersonaAnalyticalThinker]; c < minThinker {
		minThinker = c
	}
	devilCooled := s.sinceDevil < 0 || s.sinceDevil >= p.cfg.DevilCooldown
	if s.last != types.PersonaDevilsAdvocate && devilCooled && s.counts[types.PersonaDevilsAdvocate]+1 < minThinker {
		out = append(out, weighted{persona: types.PersonaDevilsAdvocate, weight: p.cfg.DevilWeight})
	}
	return out
}

func (p *Policy) pick(candidates []weighted, history []types.Message, round int) types.PersonaType {
	if len(candidates) == 1 {
		return candidates[0].persona
	}
	total := 0
	for _, c := range candidates {
		total += c.weight
	}

	var lastID string
	if len(history) > 0 {
		lastID = history[len(history)-1].ID
	}
	n := int(p.hash(round, len(history), lastID) % uint64(total))
	for _, c := range candidates {
		if n < c.weight {
			return c.persona
		}
		n -= c.weight
	}
	return candidates[len(candidates)-1].persona
}

func (p *Policy) hash(round, size int, lastID string) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p.cfg.Seed))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(round))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(size))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(lastID))
	return h.Sum64()
}

type historyStats struct {
	total          int
	last           types.PersonaType
	sinceModerator int
	sinceDevil     int
	counts         map[types.PersonaType]int
}

// summarize walks autonomous messages only; user messages never count as a speaker.
func summarize(history []types.Message) historyStats {
	s := historyStats{
		sinceDevil: -1,
		counts:     make(map[types.PersonaType]int, 4),
	}
	lastModerator, lastDevil := -1, -1
	for _, m := range history {
		if !m.Persona.IsAutonomous() {
			continue
		}
		switch m.Persona {
		case types.PersonaModerator:
			lastModerator = s.total
		case types.PersonaDevilsAdvocate:
			lastDevil = s.total
		}
		s.counts[m.Persona]++
		s.last = m.Persona
		s.total++
	}
	if lastModerator >= 0 {
		s.sinceModerator = s.total - lastModerator - 1
	} else {
		s.sinceModerator = s.total
	}
	if lastDevil >= 0 {
		s.sinceDevil = s.total - lastDevil - 1
	}
	return s
}
