package session

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

// Dice notation is NdM with an optional +K or -K modifier, e.g. "2d6+1".
var rollPattern = regexp.MustCompile(`^(\d+)d(\d+)([+-]\d+)?$`)

const (
	maxDiceCount = 100
	maxDieSides  = 1000
)

// RollResult is the outcome of one dice expression.
type RollResult struct {
	Spec     string `json:"spec"`
	Rolls    []int  `json:"rolls"`
	Modifier int    `json:"modifier"`
	Total    int    `json:"total"`
}

func (r RollResult) String() string {
	parts := make([]string, len(r.Rolls))
	for i, v := range r.Rolls {
		parts[i] = strconv.Itoa(v)
	}
	s := fmt.Sprintf("%s: [%s]", r.Spec, strings.Join(parts, " "))
	if r.Modifier != 0 {
		s += fmt.Sprintf(" %+d", r.Modifier)
	}
	return fmt.Sprintf("%s = %d", s, r.Total)
}

// Roll parses and evaluates a dice expression with the given source of
// randomness.
func Roll(rng *rand.Rand, spec string) (RollResult, error) {
	spec = strings.ToLower(strings.TrimSpace(spec))
	m := rollPattern.FindStringSubmatch(spec)
	if m == nil {
		return RollResult{}, fmt.Errorf("bad dice expression %q, want NdM or NdM+K", spec)
	}
	count, _ := strconv.Atoi(m[1])
	sides, _ := strconv.Atoi(m[2])
	mod := 0
	if m[3] != "" {
		mod, _ = strconv.Atoi(m[3])
	}

	if count < 1 || count > maxDiceCount {
		return RollResult{}, fmt.Errorf("dice count %d out of range [1,%d]", count, maxDiceCount)
	}
	if sides < 2 || sides > maxDieSides {
		return RollResult{}, fmt.Errorf("die sides %d out of range [2,%d]", sides, maxDieSides)
	}

	res := RollResult{Spec: spec, Rolls: make([]int, count), Modifier: mod, Total: mod}
	for i := range res.Rolls {
		v := rng.Intn(sides) + 1
		res.Rolls[i] = v
		res.Total += v
	}
	return res, nil
}
