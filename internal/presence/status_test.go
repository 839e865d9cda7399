package presence

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"online to away", StatusOnline, StatusAway, true},
		{"away to online", StatusAway, StatusOnline, true},
		{"online to editing", StatusOnline, StatusEditing, true},
		{"away to editing", StatusAway, StatusEditing, true},
		{"editing to online", StatusEditing, StatusOnline, true},
		{"editing to away", StatusEditing, StatusAway, false},
		{"anything to offline", StatusEditing, StatusOffline, true},
		{"offline to online", StatusOffline, StatusOnline, true},
		{"offline to editing", StatusOffline, StatusEditing, false},
		{"same state", StatusAway, StatusAway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusLive(t *testing.T) {
	for _, s := range []Status{StatusOnline, StatusAway, StatusEditing} {
		if !s.Live() {
			t.Errorf("%s should be live", s)
		}
	}
	if StatusOffline.Live() {
		t.Error("offline should not be live")
	}
}
