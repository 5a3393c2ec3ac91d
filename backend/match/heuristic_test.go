package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristic(t *testing.T) {
	t.Run("empty profiles keep the base score", func(t *testing.T) {
		res := Heuristic(Profile{}, Profile{}, NoJitter)

		assert.Equal(t, 50.0, res.Score)
		assert.Equal(t, SourceHeuristic, res.Source)
		assert.Equal(t, []string{"You might discover something new together"}, res.Reasons)
		assert.Len(t, res.IceBreakers, 3)
	})

	t.Run("all signals add up", func(t *testing.T) {
		a := Profile{
			Age:       28,
			Location:  "Berlin",
			Interests: []string{"Hiking", "Cooking", "Jazz"},
			Bio:       "I travel a lot and cook spicy food",
		}
		b := Profile{
			Name:      "Mia",
			Age:       30,
			Location:  " berlin, Germany ",
			Interests: []string{"hiking", "jazz", "Yoga"},
			Bio:       "Weekend travel and spicy ramen",
		}

		res := Heuristic(a, b, NoJitter)

		// 50 + 10 age + 15 location + 2*5 interests + 2*2 keywords
		assert.Equal(t, 89.0, res.Score)
		require.Len(t, res.Reasons, 3)
		assert.Equal(t, "You're in a similar life stage", res.Reasons[0])
		assert.Equal(t, "You're both in the same area", res.Reasons[1])
		assert.Equal(t, "You both enjoy Hiking, Jazz", res.Reasons[2])
		assert.Contains(t, res.IceBreakers[0], "Hey Mia!")
		assert.Contains(t, res.IceBreakers[0], "Hiking")
	})

	t.Run("age bands", func(t *testing.T) {
		cases := []struct {
			a, b int
			want float64
		}{
			{25, 25, 60},
			{25, 28, 60},
			{25, 31, 55},
			{25, 32, 55},
			{25, 37, 50},
			{25, 38, 40},
			{50, 25, 40},
			{0, 40, 50},
		}
		for _, tc := range cases {
			res := Heuristic(Profile{Age: tc.a}, Profile{Age: tc.b}, NoJitter)
			assert.Equal(t, tc.want, res.Score, "ages %d/%d", tc.a, tc.b)
		}
	})

	t.Run("interest bonus is capped", func(t *testing.T) {
		many := []string{"a", "b", "c", "d", "e", "f"}
		res := Heuristic(Profile{Interests: many}, Profile{Interests: many}, NoJitter)
		assert.Equal(t, 70.0, res.Score)
	})

	t.Run("duplicate interests count once", func(t *testing.T) {
		res := Heuristic(
			Profile{Interests: []string{"Chess", "chess", "CHESS"}},
			Profile{Interests: []string{"chess"}},
			NoJitter,
		)
		assert.Equal(t, 55.0, res.Score)
	})

	t.Run("bio keyword bonus is capped and ignores short and stop words", func(t *testing.T) {
		bio := "mountains rivers forests deserts oceans islands with that like"
		res := Heuristic(Profile{Bio: bio}, Profile{Bio: bio}, NoJitter)
		assert.Equal(t, 60.0, res.Score)

		res = Heuristic(Profile{Bio: "I am a cat fan"}, Profile{Bio: "a cat fan I am"}, NoJitter)
		assert.Equal(t, 50.0, res.Score)
	})

	t.Run("location needs both sides", func(t *testing.T) {
		res := Heuristic(Profile{Location: "Tallinn"}, Profile{}, NoJitter)
		assert.Equal(t, 50.0, res.Score)

		res = Heuristic(Profile{Location: "Tallinn"}, Profile{Location: "Tartu"}, NoJitter)
		assert.Equal(t, 50.0, res.Score)
	})

	t.Run("score is clamped", func(t *testing.T) {
		high := func() int { return 200 }
		low := func() int { return -200 }

		assert.Equal(t, 100.0, Heuristic(Profile{}, Profile{}, high).Score)
		assert.Equal(t, 0.0, Heuristic(Profile{}, Profile{}, low).Score)
	})

	t.Run("nil jitter means none", func(t *testing.T) {
		assert.Equal(t, 50.0, Heuristic(Profile{}, Profile{}, nil).Score)
	})
}

func TestRandomJitterRange(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		j := RandomJitter()
		require.GreaterOrEqual(t, j, -5)
		require.LessOrEqual(t, j, 5)
		seen[j] = true
	}
	assert.Len(t, seen, 11)
}

func TestFallbackIceBreakers(t *testing.T) {
	generic := FallbackIceBreakers(Profile{}, Profile{})
	require.Len(t, generic, 3)
	assert.Contains(t, generic[0], "Hey there!")

	shared := FallbackIceBreakers(
		Profile{Interests: []string{"Board games"}},
		Profile{Name: "Ola", Interests: []string{"board games"}},
	)
	assert.Equal(t, "Hey Ola! I noticed we both love Board games. What got you into it?", shared[0])
}

func TestAgeAt(t *testing.T) {
	dob := time.Date(1995, time.June, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 29, AgeAt(dob, time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 30, AgeAt(dob, time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, AgeAt(time.Time{}, time.Now()))
	assert.Equal(t, 0, AgeAt(dob, dob.AddDate(-1, 0, 0)))
}
