package conversation

import (
	"math/rand/v2"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Category
	}{
		{"I'm so stressed about this deadline", Stress},
		{"honestly just bored", Boredom},
		{"My boss made me FURIOUS", Anger},
		{"I always have one with coffee", Habit},
		{"my friends are all at the pub", Social},
		{"I feel weird", Other},
		{"", Other},
		{"stressed and angry", Stress},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestSelectAvoidsUsed(t *testing.T) {
	pool := []string{"a", "b", "c"}
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 20; i++ {
		idx, text := Select(pool, []int{0, 2}, rng)
		assert.Equal(t, 1, idx)
		assert.Equal(t, "b", text)
	}
}

func TestSelectExhaustedPool(t *testing.T) {
	pool := []string{"a", "b"}
	rng := rand.New(rand.NewPCG(1, 2))

	idx, _ := Select(pool, []int{0, 1}, rng)
	assert.Contains(t, []int{0, 1}, idx)

	idx, text := Select(nil, nil, rng)
	assert.Equal(t, -1, idx)
	assert.Empty(t, text)
}

func TestSelectIsDeterministicForSeed(t *testing.T) {
	pool := responses[Stress]
	a := rand.New(rand.NewPCG(42, 42))
	b := rand.New(rand.NewPCG(42, 42))

	for i := 0; i < 10; i++ {
		ia, _ := Select(pool, nil, a)
		ib, _ := Select(pool, nil, b)
		require.Equal(t, ia, ib)
	}
}

func TestSelectWeighted(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	pool := []weighted{{"never", 0}, {"always", 5}}

	for i := 0; i < 20; i++ {
		idx, text := selectWeighted(pool, rng)
		assert.Equal(t, 1, idx)
		assert.Equal(t, "always", text)
	}

	idx, _ := selectWeighted([]weighted{{"x", 0}}, rng)
	assert.Equal(t, -1, idx)
}

func TestResponderDoesNotRepeatUntilExhausted(t *testing.T) {
	r := NewResponder(99, zerolog.Nop())

	seen := map[string]bool{}
	for i := 0; i < len(responses[Anger]); i++ {
		category, reply := r.Reply("I'm so angry")
		require.Equal(t, Anger, category)
		assert.False(t, seen[reply], "repeated reply %q", reply)
		seen[reply] = true
	}
	assert.Len(t, seen, len(responses[Anger]))

	// pool exhausted, replies start again
	_, reply := r.Reply("angry again")
	assert.True(t, seen[reply])
}

func TestResponderFallback(t *testing.T) {
	r := NewResponder(3, zerolog.Nop())

	texts := map[string]bool{}
	for _, w := range fallbackPool {
		texts[w.text] = true
	}

	category, reply := r.Reply("hmm")
	assert.Equal(t, Other, category)
	assert.True(t, texts[reply])
}

func TestResponderSeeded(t *testing.T) {
	a := NewResponder(5, zerolog.Nop())
	b := NewResponder(5, zerolog.Nop())

	for i := 0; i < 8; i++ {
		_, ra := a.Reply("bored")
		_, rb := b.Reply("bored")
		assert.Equal(t, ra, rb)
		assert.Equal(t, a.Coping(), b.Coping())
	}
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory("habit")
	assert.True(t, ok)
	assert.Equal(t, Habit, c)

	c, ok = ParseCategory("none")
	assert.True(t, ok)
	assert.Equal(t, None, c)

	_, ok = ParseCategory("coping")
	assert.False(t, ok)
}

func TestOpening(t *testing.T) {
	msg, prompt := Opening(Stress)
	assert.Equal(t, openings[Stress], msg)
	assert.Equal(t, prompts[Stress], prompt)

	msg, prompt = Opening(Category("unknown"))
	assert.Equal(t, openings[None], msg)
	assert.Equal(t, prompts[None], prompt)
}
