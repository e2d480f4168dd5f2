package main

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// ============================================================================
// History Test Helpers
// ============================================================================

func openTestHistory(t *testing.T) *History {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	h, err := OpenHistory(dsn, 0)
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func actionTypes(actions []ActionRecord) map[string]int {
	out := make(map[string]int)
	for _, a := range actions {
		out[a.Type]++
	}
	return out
}

// ============================================================================
// Visibility Tests
// ============================================================================

func TestCanSeeAction(t *testing.T) {
	mafiaVote := ActionRecord{Actor: "m", Type: ActionMafiaVote, Visibility: VisibilityTeamMafia, Day: 0, Phase: "night"}
	protect := ActionRecord{Actor: "d", Type: ActionDoctorProtect, Visibility: VisibilityActor, Day: 0, Phase: "night"}
	kill := ActionRecord{Type: ActionNightKill, Visibility: VisibilityResolved, Day: 1, Phase: "night"}
	joined := ActionRecord{Actor: "v", Type: ActionJoin, Visibility: VisibilityPublic}
	odd := ActionRecord{Type: "mystery", Visibility: "nobody"}

	mafia := Viewer{ID: "m", Role: RoleMafia, Day: 1, Phase: PhaseNight}
	doctor := Viewer{ID: "d", Role: RoleDoctor, Day: 1, Phase: PhaseNight}
	villagerNight := Viewer{ID: "v", Role: RoleVillager, Day: 1, Phase: PhaseNight}
	villagerDay := Viewer{ID: "v", Role: RoleVillager, Day: 1, Phase: PhaseDay}
	villagerLater := Viewer{ID: "v", Role: RoleVillager, Day: 2, Phase: PhaseNight}
	villagerEnded := Viewer{ID: "v", Role: RoleVillager, Day: 1, Phase: PhaseEnded}

	tests := []struct {
		name   string
		action ActionRecord
		viewer Viewer
		want   bool
	}{
		{"public for everyone", joined, doctor, true},
		{"mafia vote for mafia", mafiaVote, mafia, true},
		{"mafia vote hidden from doctor", mafiaVote, doctor, false},
		{"protect for the doctor", protect, doctor, true},
		{"protect hidden from mafia", protect, mafia, false},
		{"kill hidden during its night", kill, villagerNight, false},
		{"kill visible the next day", kill, villagerDay, true},
		{"kill visible on later days", kill, villagerLater, true},
		{"unknown visibility hidden", odd, villagerDay, false},
		{"everything visible after the end", mafiaVote, villagerEnded, true},
		{"even actor records after the end", protect, villagerEnded, true},
	}
	for _, tt := range tests {
		if got := canSeeAction(tt.action, tt.viewer); got != tt.want {
			t.Errorf("%s: canSeeAction = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// ============================================================================
// Journal Tests
// ============================================================================

func TestHistoryFiltersByViewer(t *testing.T) {
	h := openTestHistory(t)
	env := newTestEnv(t, func(o *RegistryOptions) { o.Journal = h })
	code, ids := env.game(classicFive...)

	env.must(env.reg.SubmitNightAction(code, ids[0], ids[3]))
	env.must(env.reg.SubmitNightAction(code, ids[1], ids[4]))
	env.must(env.reg.SubmitNightAction(code, ids[2], ids[4]))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	visibleTo := func(identity string) map[string]int {
		t.Helper()
		game, viewer, err := env.reg.Viewer(code, identity)
		env.must(err)
		actions, err := h.Visible(ctx, game, viewer)
		env.must(err)
		return actionTypes(actions)
	}

	mafia := visibleTo(ids[0])
	doctor := visibleTo(ids[1])
	villager := visibleTo(ids[4])

	if mafia[ActionMafiaVote] != 1 {
		t.Errorf("Mafia sees %d mafia votes, want 1", mafia[ActionMafiaVote])
	}
	if villager[ActionMafiaVote] != 0 || doctor[ActionMafiaVote] != 0 {
		t.Error("town can read the Mafia's vote")
	}
	if doctor[ActionDoctorProtect] != 1 || mafia[ActionDoctorProtect] != 0 {
		t.Errorf("doctor_protect seen by doctor %d, by mafia %d", doctor[ActionDoctorProtect], mafia[ActionDoctorProtect])
	}
	if villager[ActionDetectiveInvestigate] != 0 {
		t.Error("villager can read the investigation")
	}
	if villager[ActionNightKill] != 1 {
		t.Errorf("villager sees %d night kills by day, want 1", villager[ActionNightKill])
	}
	if villager[ActionJoin] != len(ids) || villager[ActionStart] != 1 {
		t.Errorf("villager public view = %v", villager)
	}
}

func TestHistoryRevealsEverythingAtTheEnd(t *testing.T) {
	h := openTestHistory(t)
	env := newTestEnv(t, func(o *RegistryOptions) { o.Journal = h })
	code, ids := env.game(RoleMafia, RoleDoctor, RoleDetective)

	env.must(env.reg.SubmitNightAction(code, ids[0], ids[2]))
	env.must(env.reg.SubmitNightAction(code, ids[1], ids[1]))
	env.must(env.reg.SubmitNightAction(code, ids[2], ids[0]))
	if p := env.phase(code); p != PhaseEnded {
		t.Fatalf("phase = %s, want ended", p)
	}

	game, viewer, err := env.reg.Viewer(code, ids[1])
	env.must(err)
	actions, err := h.Visible(context.Background(), game, viewer)
	env.must(err)
	seen := actionTypes(actions)
	for _, kind := range []string{ActionMafiaVote, ActionDoctorProtect, ActionDetectiveInvestigate, ActionNightKill, ActionGameEnd} {
		if seen[kind] != 1 {
			t.Errorf("ended game shows %d %s records, want 1", seen[kind], kind)
		}
	}
	for i := 1; i < len(actions); i++ {
		if actions[i].ID <= actions[i-1].ID {
			t.Fatal("history is not in insertion order")
		}
	}
}

func TestHistoryKeepsGamesApart(t *testing.T) {
	h := openTestHistory(t)
	h.Record(ActionRecord{Session: "game-a", Code: "ABCD", Type: ActionJoin, Visibility: VisibilityPublic, At: time.Now()})
	h.Record(ActionRecord{Session: "game-b", Code: "ABCD", Type: ActionJoin, Visibility: VisibilityPublic, At: time.Now()})

	actions, err := h.Visible(context.Background(), "game-a", Viewer{Phase: PhaseLobby})
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Session != "game-a" {
		t.Errorf("actions = %+v, want only game-a", actions)
	}
}

func TestHistoryClose(t *testing.T) {
	h, err := OpenHistory(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), 4)
	if err != nil {
		t.Fatal(err)
	}
	h.Record(ActionRecord{Session: "g", Type: ActionStart, Visibility: VisibilityPublic, At: time.Now()})
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// recording and flushing after close are silent no-ops
	h.Record(ActionRecord{Session: "g", Type: ActionStart})
	if err := h.Flush(context.Background()); err != nil {
		t.Errorf("Flush after Close: %v", err)
	}
}

func TestFlushHonoursContext(t *testing.T) {
	h := openTestHistory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// either the barrier or the cancellation wins; neither may hang
	if err := h.Flush(ctx); err != nil && err != context.Canceled {
		t.Errorf("Flush = %v", err)
	}
}
