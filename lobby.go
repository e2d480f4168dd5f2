package main

import (
	"fmt"
	"log"
	"strings"
)

// maxNameLength bounds player and lobby display names
const maxNameLength = 32

// Join seats identity in the lobby for code.
func (r *Registry) Join(code, identity, name string) error {
	name = strings.TrimSpace(name)
	if identity == "" || name == "" {
		return fmt.Errorf("%w: identity and name are required", ErrInvalidMessage)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidMessage, maxNameLength)
	}

	return r.withSession(code, func(s *Session) error {
		if s.phase != PhaseLobby {
			DebugLog("Join", "Player '%s' cannot join %s - phase is '%s'", name, code, s.phase)
			return fmt.Errorf("%w: game already started", ErrWrongPhase)
		}
		if s.player(identity) != nil {
			return ErrAlreadyJoined
		}
		if len(s.players) >= s.capacity {
			return fmt.Errorf("%w: %d/%d players", ErrFull, len(s.players), s.capacity)
		}
		if !r.claim(identity, code) {
			return ErrAlreadyJoined
		}

		s.players = append(s.players, &Player{ID: identity, Name: name, Alive: true})

		log.Printf("Player %s (%s) joined session %s (%d/%d)", identity, name, code, len(s.players), s.capacity)
		r.record(s, ActionRecord{Actor: identity, Type: ActionJoin, Visibility: VisibilityPublic,
			Description: fmt.Sprintf("%s joined the lobby", name)})

		r.notifier.Broadcast(code, Event{Kind: EventRosterUpdated, Code: code, Roster: s.roster()})
		if len(s.messages) > 0 {
			r.notifier.SendTo(code, identity, Event{Kind: EventMessageLog, Code: code, Messages: visibleMessages(s, identity)})
		}
		return nil
	})
}

// SetReady toggles the caller's ready flag. When everyone is ready and the
// quorum is met the game starts.
func (r *Registry) SetReady(code, identity string) error {
	return r.withSession(code, func(s *Session) error {
		p := s.player(identity)
		if p == nil {
			return fmt.Errorf("%w: player %q", ErrNotFound, identity)
		}
		if s.phase != PhaseLobby {
			return fmt.Errorf("%w: ready only counts in the lobby", ErrWrongPhase)
		}

		p.Ready = !p.Ready
		DebugLog("SetReady", "Player '%s' in %s ready=%v", p.Name, code, p.Ready)
		r.notifier.Broadcast(code, Event{Kind: EventRosterUpdated, Code: code, Roster: s.roster()})

		r.maybeAutoStart(s)
		return nil
	})
}

// StartGame lets the host start once the quorum is met, whether or not
// everyone is ready.
func (r *Registry) StartGame(code, identity string) error {
	return r.withSession(code, func(s *Session) error {
		p := s.player(identity)
		if p == nil {
			return fmt.Errorf("%w: player %q", ErrNotFound, identity)
		}
		if s.phase != PhaseLobby {
			return fmt.Errorf("%w: game already started", ErrWrongPhase)
		}
		if !p.Host {
			return ErrNotHost
		}
		if len(s.players) < r.minPlayers {
			return fmt.Errorf("%w: need %d, have %d", ErrQuorumNotMet, r.minPlayers, len(s.players))
		}
		return r.startGame(s)
	})
}

// Leave removes identity from the session in any phase. An emptied session
// is destroyed; a game in progress re-checks its win condition and whether
// the departure unblocks the current phase.
func (r *Registry) Leave(code, identity string) error {
	return r.withSession(code, func(s *Session) error {
		removed, ok := s.removePlayer(identity)
		if !ok {
			return fmt.Errorf("%w: player %q", ErrNotFound, identity)
		}
		r.unindex(identity, code)

		log.Printf("Player %s (%s) left session %s during %s", identity, removed.Name, code, s.phase)
		r.record(s, ActionRecord{Actor: identity, Type: ActionLeave, Visibility: VisibilityPublic,
			Description: fmt.Sprintf("%s left", removed.Name)})

		if len(s.players) == 0 {
			r.drop(s)
			return nil
		}

		r.notifier.Broadcast(code, Event{Kind: EventRosterUpdated, Code: code, Roster: s.roster()})

		switch s.phase {
		case PhaseLobby:
			r.maybeAutoStart(s)
		case PhaseNight:
			if !r.finishResolution(s) {
				r.maybeResolveNight(s)
			}
		case PhaseDay:
			if !r.finishResolution(s) {
				r.maybeResolveDay(s)
			}
		}
		return nil
	})
}

// Disconnect is Leave for a connection that went away.
func (r *Registry) Disconnect(identity string) {
	code, ok := r.SessionFor(identity)
	if !ok {
		return
	}
	if err := r.Leave(code, identity); err != nil {
		DebugLog("Disconnect", "Leave %s for %s: %v", code, identity, err)
	}
}

// maybeAutoStart starts the game when every seated player is ready.
func (r *Registry) maybeAutoStart(s *Session) {
	if s.phase != PhaseLobby || len(s.players) < r.minPlayers {
		return
	}
	for _, p := range s.players {
		if !p.Ready {
			return
		}
	}
	if err := r.startGame(s); err != nil {
		logError("maybeAutoStart: startGame", err)
	}
}

// startGame deals roles and enters the first night. Called with s.mu held.
func (r *Registry) startGame(s *Session) error {
	roles, err := roleTable(len(s.players))
	if err != nil {
		return err
	}
	shuffleRoles(r.random, roles)

	for i, p := range s.players {
		p.Role = roles[i]
		p.Alive = true
		DebugLog("startGame", "Session %s: %s is %s", s.code, p.Name, p.Role)
	}

	s.dayCount = 0
	s.votes = make(map[string]string)
	s.night = newNightActions()

	log.Printf("Session %s started with %d players", s.code, len(s.players))
	r.record(s, ActionRecord{Type: ActionStart, Visibility: VisibilityPublic,
		Description: fmt.Sprintf("The game started with %d players", len(s.players))})

	s.advancePhase(PhaseNight)
	r.notifier.Broadcast(s.code, Event{Kind: EventGameStarted, Code: s.code, Roster: s.roster()})

	var mafia []string
	for _, p := range s.players {
		if p.Role == RoleMafia {
			mafia = append(mafia, p.Name)
		}
	}
	for _, p := range s.players {
		ev := Event{Kind: EventRoleAssigned, Code: s.code, Role: p.Role}
		if p.Role == RoleMafia {
			ev.Teammates = mafia
		}
		r.notifier.SendTo(s.code, p.ID, ev)
	}

	r.notifier.Broadcast(s.code, Event{Kind: EventPhaseChanged, Code: s.code, Phase: phasePtr(PhaseNight), DayCount: intPtr(s.dayCount)})
	r.armNightTimer(s)
	LogDBState("after game start")
	return nil
}
