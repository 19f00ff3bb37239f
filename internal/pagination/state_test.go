package pagination

import (
	"testing"

	"dripbot/internal/models"
)

func TestStateOf(t *testing.T) {
	if got := StateOf(nil); got.Phase != NotStarted {
		t.Errorf("nil session: expected NotStarted, got %v", got.Phase)
	}
	if got := StateOf(&models.UserSession{CurrentIndex: 3}); got != (State{Phase: Active, Index: 3}) {
		t.Errorf("open session: expected Active(3), got %+v", got)
	}
	if got := StateOf(&models.UserSession{CurrentIndex: 3, IsCompleted: true}); got.Phase != Completed {
		t.Errorf("completed session: expected Completed, got %v", got.Phase)
	}
}

func TestEnter(t *testing.T) {
	if step := Enter(0); !step.Noop() {
		t.Errorf("empty walkthrough should be a no-op, got %+v", step)
	}

	single := Enter(1)
	if !single.Deliver || single.WithControl || !single.Finish || single.Next.Phase != Completed {
		t.Errorf("single item: expected deliver without control and finish, got %+v", single)
	}

	multi := Enter(4)
	if !multi.Deliver || !multi.WithControl || multi.Finish || multi.Next != (State{Phase: Active}) {
		t.Errorf("multi item: expected Active(0) with control, got %+v", multi)
	}
}

func TestAdvance(t *testing.T) {
	active := func(i int) State { return State{Phase: Active, Index: i} }

	tests := []struct {
		name      string
		cur       State
		requested int
		total     int
		ads       int
		want      Step
	}{
		{
			name: "middle item with ads",
			cur:  active(0), requested: 1, total: 3, ads: 2,
			want: Step{Next: active(1), ShowAd: true, AdIndex: 0, Deliver: true, WithControl: true},
		},
		{
			name: "last item finishes",
			cur:  active(1), requested: 2, total: 3, ads: 2,
			want: Step{Next: State{Phase: Completed}, ShowAd: true, AdIndex: 1, Deliver: true, Finish: true},
		},
		{
			name: "no ads",
			cur:  active(0), requested: 1, total: 3,
			want: Step{Next: active(1), Deliver: true, WithControl: true},
		},
		{
			name: "past the end only finishes",
			cur:  active(0), requested: 3, total: 3, ads: 2,
			want: Step{Next: State{Phase: Completed}, Finish: true},
		},
		{
			name: "replay of current index",
			cur:  active(2), requested: 2, total: 5, ads: 1,
			want: Step{Next: active(2)},
		},
		{
			name: "replay of older index",
			cur:  active(3), requested: 1, total: 5, ads: 1,
			want: Step{Next: active(3)},
		},
		{
			name: "completed accepts nothing",
			cur:  State{Phase: Completed}, requested: 1, total: 5, ads: 1,
			want: Step{Next: State{Phase: Completed}},
		},
		{
			name: "not started accepts nothing",
			cur:  State{Phase: NotStarted}, requested: 1, total: 5,
			want: Step{Next: State{Phase: NotStarted}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Advance(tt.cur, tt.requested, tt.total, tt.ads)
			if got != tt.want {
				t.Errorf("Advance(%+v, %d, %d, %d) = %+v, want %+v", tt.cur, tt.requested, tt.total, tt.ads, got, tt.want)
			}
		})
	}
}

func TestAdIndex_RoundRobin(t *testing.T) {
	// three ads, six items: entering index i shows ad (i-1) mod 3
	want := map[int]int{1: 0, 2: 1, 3: 2, 4: 0, 5: 1}
	for i := 1; i <= 5; i++ {
		step := Advance(State{Phase: Active, Index: i - 1}, i, 6, 3)
		if !step.ShowAd || step.AdIndex != want[i] {
			t.Errorf("index %d: expected ad %d, got %+v", i, want[i], step)
		}
	}
}

func TestAdIndex_Bounds(t *testing.T) {
	if AdIndex(0, 3) != 0 || AdIndex(5, 0) != 0 {
		t.Errorf("out of range inputs must map to 0")
	}
	if AdIndex(7, 2) != 0 || AdIndex(8, 2) != 1 {
		t.Errorf("unexpected modulo mapping")
	}
}
