package speaker

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"

	"github.com/BaSui01/perspectra/types"
)

var claimSamples = []string{"plain reply", "growth was 35%", "according to analysts", "hmm"}

// TestProperty_Policy_NoImmediateRepeat 任意对话中不会连续选择同一角色，也不会选择 user
func TestProperty_Policy_NoImmediateRepeat(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := Config{
			ModeratorEvery: rapid.IntRange(2, 8).Draw(rt, "moderatorEvery"),
			DevilCooldown:  rapid.IntRange(1, 6).Draw(rt, "devilCooldown"),
			Seed:           rapid.Int64().Draw(rt, "seed"),
		}
		p := New(cfg)
		turns := rapid.IntRange(1, 60).Draw(rt, "turns")

		var history []types.Message
		var prev types.PersonaType
		for round := 0; round < turns; round++ {
			if rapid.IntRange(0, 5).Draw(rt, fmt.Sprintf("user_%d", round)) == 0 {
				history = append(history, msg(fmt.Sprintf("u%d", round), types.PersonaUser, "user input 90%"))
			}
			next := p.Select(history, round, "")
			if next == types.PersonaUser || !next.IsAutonomous() {
				rt.Fatalf("round %d: invalid persona %q", round, next)
			}
			if next == prev {
				rt.Fatalf("round %d: repeated %s", round, next)
			}
			content := claimSamples[rapid.IntRange(0, len(claimSamples)-1).Draw(rt, fmt.Sprintf("content_%d", round))]
			history = append(history, msg(fmt.Sprintf("m%d", round), next, content))
			prev = next
		}
	})
}

// TestProperty_Policy_ModeratorCadence 主持人在任何 ModeratorEvery 个连续自主发言中至少出现一次
func TestProperty_Policy_ModeratorCadence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		every := rapid.IntRange(2, 8).Draw(rt, "every")
		p := New(Config{ModeratorEvery: every, Seed: rapid.Int64().Draw(rt, "seed")})
		got := replay(p, rapid.IntRange(every, 80).Draw(rt, "turns"))

		for start := 0; start+every <= len(got); start++ {
			found := false
			for _, persona := range got[start : start+every] {
				if persona == types.PersonaModerator {
					found = true
					break
				}
			}
			if !found {
				rt.Fatalf("no moderator in window [%d,%d): %v", start, start+every, got)
			}
		}
	})
}

// TestProperty_Policy_DevilNeverOvertakesThinkers 魔鬼代言人发言次数始终少于两位思考者
func TestProperty_Policy_DevilNeverOvertakesThinkers(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := New(Config{Seed: rapid.Int64().Draw(rt, "seed"), DevilCooldown: rapid.IntRange(1, 5).Draw(rt, "cooldown")})
		counts := map[types.PersonaType]int{}
		for _, persona := range replay(p, rapid.IntRange(1, 120).Draw(rt, "turns")) {
			counts[persona]++
			devil := counts[types.PersonaDevilsAdvocate]
			if devil > 0 && (devil >= counts[types.PersonaFastThinker] || devil >= counts[types.PersonaAnalyticalThinker]) {
				rt.Fatalf("devil advocate overtook thinkers: %v", counts)
			}
		}
	})
}

func TestProperty_Policy_SameInputsSameOutput(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("select is a pure function of history, round and seed", prop.ForAll(
		func(seed int64, turns int) bool {
			a := replay(New(Config{Seed: seed}), turns)
			b := replay(New(Config{Seed: seed}), turns)
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}
