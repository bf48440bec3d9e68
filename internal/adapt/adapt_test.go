package adapt

import (
	"errors"
	"math"
	"testing"

	"github.com/storyloom/reel/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func partSum(p Plan) float64 {
	var sum float64
	for _, part := range p.Parts {
		sum += part.OutputSec
	}
	return sum
}

func TestEstimateSpeechSeconds(t *testing.T) {
	tests := []struct {
		name string
		text string
		cps  float64
		want float64
	}{
		{"empty", "", 3.5, 0},
		{"whitespace only", "   \n\t ", 3.5, 0},
		{"short text floors at one second", "hi", 3.5, 1.0},
		{"seven chars at 3.5 cps", "abcdefg", 3.5, 2.0},
		{"cjk runes counted as runes not bytes", "从前有一座山里有座庙", 5.0, 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateSpeechSeconds(tt.text, tt.cps)
			if !almostEqual(got, tt.want) {
				t.Fatalf("EstimateSpeechSeconds(%q, %v) = %v, want %v", tt.text, tt.cps, got, tt.want)
			}
		})
	}
}

func TestTierSelect(t *testing.T) {
	tiers := Tiers{ShortSec: 5, LongSec: 10}

	tests := []struct {
		duration float64
		want     int
	}{
		{0, 5},
		{3.2, 5},
		{5.0, 5},
		{5.01, 10},
		{10.0, 10},
		{17.0, 10}, // beyond the long tier still selects it; looping covers the gap
		{999, 10},
	}

	for _, tt := range tests {
		if got := tiers.Select(tt.duration); got != tt.want {
			t.Errorf("Select(%v) = %d, want %d", tt.duration, got, tt.want)
		}
	}
}

func TestBuildScaled(t *testing.T) {
	// Audio 3s against a 5s clip: one part, compressed, duration exactly 3.
	plan, err := Build(5, 3, 30)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if plan.Mode != models.AdaptModeScaled {
		t.Errorf("mode = %s, want scaled", plan.Mode)
	}
	if plan.PartCount() != 1 {
		t.Errorf("part count = %d, want 1", plan.PartCount())
	}
	if !almostEqual(plan.ScaleFactor, 5.0/3.0) {
		t.Errorf("scale factor = %v, want %v", plan.ScaleFactor, 5.0/3.0)
	}
	if !almostEqual(partSum(plan), 3) {
		t.Errorf("part sum = %v, want 3", partSum(plan))
	}
}

func TestBuildEqualDurationsIsNoOpScale(t *testing.T) {
	plan, err := Build(5, 5, 30)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if plan.Mode != models.AdaptModeScaled {
		t.Errorf("mode = %s, want scaled", plan.Mode)
	}
	if !almostEqual(plan.ScaleFactor, 1.0) {
		t.Errorf("scale factor = %v, want 1", plan.ScaleFactor)
	}
	if !almostEqual(plan.Parts[0].Scale(), 1.0) {
		t.Errorf("part scale = %v, want 1", plan.Parts[0].Scale())
	}
}

func TestBuildLoopedWithRemainder(t *testing.T) {
	// Audio 17s against a 10s clip: one full repeat plus a 7s remainder.
	plan, err := Build(10, 17, 30)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if plan.Mode != models.AdaptModeLooped {
		t.Errorf("mode = %s, want looped", plan.Mode)
	}
	if plan.Loops != 1 {
		t.Errorf("loops = %d, want 1", plan.Loops)
	}
	if !almostEqual(plan.RemainderSec, 7) {
		t.Errorf("remainder = %v, want 7", plan.RemainderSec)
	}
	if plan.PartCount() != 2 {
		t.Errorf("part count = %d, want 2", plan.PartCount())
	}
	if !almostEqual(plan.ScaleFactor, 10.0/7.0) {
		t.Errorf("remainder scale factor = %v, want %v", plan.ScaleFactor, 10.0/7.0)
	}
	if !almostEqual(partSum(plan), 17) {
		t.Errorf("part sum = %v, want 17", partSum(plan))
	}
}

func TestBuildLoopedExactMultiple(t *testing.T) {
	plan, err := Build(5, 15, 30)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if plan.Loops != 3 {
		t.Errorf("loops = %d, want 3", plan.Loops)
	}
	if plan.RemainderSec != 0 {
		t.Errorf("remainder = %v, want 0", plan.RemainderSec)
	}
	if plan.PartCount() != 3 {
		t.Errorf("part count = %d, want 3", plan.PartCount())
	}
	if !almostEqual(partSum(plan), 15) {
		t.Errorf("part sum = %v, want 15", partSum(plan))
	}
}

func TestBuildLoopRemainderLaw(t *testing.T) {
	// For A > C: loops == floor(A/C), remainder == A mod C, and the parts
	// always sum back to A exactly.
	cases := []struct{ clip, audio float64 }{
		{5, 8.4},
		{10, 17},
		{5, 23.75},
		{10, 99.9},
		{5, 10.5},
	}

	for _, c := range cases {
		plan, err := Build(c.clip, c.audio, 0)
		if err != nil {
			t.Fatalf("Build(%v, %v) failed: %v", c.clip, c.audio, err)
		}

		wantLoops := int(math.Floor(c.audio / c.clip))
		if plan.Loops != wantLoops {
			t.Errorf("Build(%v, %v): loops = %d, want %d", c.clip, c.audio, plan.Loops, wantLoops)
		}
		wantRemainder := c.audio - float64(wantLoops)*c.clip
		if math.Abs(plan.RemainderSec-wantRemainder) > Epsilon {
			t.Errorf("Build(%v, %v): remainder = %v, want %v", c.clip, c.audio, plan.RemainderSec, wantRemainder)
		}
		if math.Abs(partSum(plan)-c.audio) > 1e-9 {
			t.Errorf("Build(%v, %v): part sum = %v, want %v", c.clip, c.audio, partSum(plan), c.audio)
		}
	}
}

func TestBuildSubFrameRemainderFolds(t *testing.T) {
	// A hair over two full repeats: the sub-frame leftover folds into the
	// last repeat instead of producing a near-infinite-speed tail part.
	audio := 10.0 + 1e-4
	plan, err := Build(5, audio, 30)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if plan.RemainderSec != 0 {
		t.Errorf("remainder = %v, want folded to 0", plan.RemainderSec)
	}
	if plan.PartCount() != 2 {
		t.Errorf("part count = %d, want 2", plan.PartCount())
	}
	if !almostEqual(partSum(plan), audio) {
		t.Errorf("part sum = %v, want %v", partSum(plan), audio)
	}
}

func TestBuildRejectsNonPositiveAudio(t *testing.T) {
	if _, err := Build(5, 0, 30); err == nil {
		t.Error("expected error for zero audio duration")
	}
	if _, err := Build(5, -2, 30); err == nil {
		t.Error("expected error for negative audio duration")
	}
}

func TestBuildLoopCap(t *testing.T) {
	_, err := Build(5, 1000, 30)
	if err == nil {
		t.Fatal("expected loop cap error")
	}

	var mismatch *models.DurationMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error type = %T, want *models.DurationMismatchError", err)
	}
	if mismatch.LoopsNeeded != 200 {
		t.Errorf("loops needed = %d, want 200", mismatch.LoopsNeeded)
	}
	if mismatch.MaxLoops != 30 {
		t.Errorf("max loops = %d, want 30", mismatch.MaxLoops)
	}

	// No cap when maxLoops is zero.
	if _, err := Build(5, 1000, 0); err != nil {
		t.Errorf("uncapped build failed: %v", err)
	}
}
