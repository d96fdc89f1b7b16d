package moderation

import (
	"testing"

	"github.com/milaap/platform/internal/messaging"
)

func TestPolicyEvaluate(t *testing.T) {
	policy := Policy{AutoBlockThreshold: 3, AutoBlockMinutes: 60}

	tests := []struct {
		name    string
		strikes int
		want    string
	}{
		{"below threshold", 2, ""},
		{"at threshold", 3, messaging.IntentAutoBlock},
		{"above threshold", 4, ""},
		{"no strike", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := policy.Evaluate(&Log{ID: "log-1", AffectedUserID: "user-1", UserStrikeCount: tt.strikes})
			if tt.want == "" {
				if intent != nil {
					t.Fatalf("got intent %+v, want none", intent)
				}
				return
			}
			if intent == nil {
				t.Fatal("got no intent, want one")
			}
			if intent.Kind != tt.want || intent.UserID != "user-1" || intent.Duration != 60 {
				t.Errorf("unexpected intent: %+v", intent)
			}
		})
	}
}

func TestPolicyDisabled(t *testing.T) {
	policy := Policy{AutoBlockThreshold: 0}
	if intent := policy.Evaluate(&Log{UserStrikeCount: 10}); intent != nil {
		t.Errorf("disabled policy produced intent %+v", intent)
	}
}

func TestActionAccruesStrike(t *testing.T) {
	accruing := []Action{ActionUserWarn, ActionUserSuspend, ActionUserBan, ActionMessageDelete}
	for _, a := range accruing {
		if !a.AccruesStrike() {
			t.Errorf("%s should accrue a strike", a)
		}
	}
	protective := []Action{ActionMessageFlag, ActionRoomMute, ActionRoomClose, ActionNone}
	for _, a := range protective {
		if a.AccruesStrike() {
			t.Errorf("%s should not accrue a strike", a)
		}
	}
}
