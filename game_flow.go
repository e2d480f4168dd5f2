package main

import (
	"fmt"
	"log"
)

// evaluateWinner decides the game from the roster alone: Town wins once no
// Mafia is alive, Mafia wins once they are at least as many as the Town.
func evaluateWinner(players []*Player) Winner {
	var aliveMafia, aliveTown int
	for _, p := range players {
		if !p.Alive {
			continue
		}
		if p.Role.Team() == TeamMafia {
			aliveMafia++
		} else {
			aliveTown++
		}
	}

	switch {
	case aliveMafia == 0:
		return WinnerTown
	case aliveMafia >= aliveTown:
		return WinnerMafia
	default:
		return WinnerNone
	}
}

// finishResolution ends the game if the roster has a winner and reports
// whether it did.
func (r *Registry) finishResolution(s *Session) bool {
	winner := evaluateWinner(s.players)
	if winner == WinnerNone {
		return false
	}
	r.endGame(s, winner)
	return true
}

// beginNight clears the night actions and enters Night.
func (r *Registry) beginNight(s *Session) {
	s.night = newNightActions()
	s.advancePhase(PhaseNight)

	log.Printf("Day %d ended in session %s, transitioning to night", s.dayCount, s.code)
	r.notifier.Broadcast(s.code, Event{Kind: EventPhaseChanged, Code: s.code, Phase: phasePtr(PhaseNight), DayCount: intPtr(s.dayCount)})
	r.armNightTimer(s)
	LogDBState("after day resolution")
}

// beginDay increments the day counter, clears votes and enters Day.
func (r *Registry) beginDay(s *Session) {
	s.dayCount++
	s.votes = make(map[string]string)
	s.advancePhase(PhaseDay)

	log.Printf("Night ended in session %s, transitioning to day %d", s.code, s.dayCount)
	r.notifier.Broadcast(s.code, Event{Kind: EventPhaseChanged, Code: s.code, Phase: phasePtr(PhaseDay), DayCount: intPtr(s.dayCount)})
	LogDBState("after night resolution")
}

// endGame records the winner and reveals every role.
func (r *Registry) endGame(s *Session, winner Winner) {
	s.winner = winner
	s.advancePhase(PhaseEnded)

	log.Printf("Session %s finished, winner: %s", s.code, winner)
	r.addSystemMessage(s, fmt.Sprintf("The %s wins!", winnerTitle(winner)))
	r.record(s, ActionRecord{Type: ActionGameEnd, Visibility: VisibilityPublic,
		Description: fmt.Sprintf("Game over: %s wins", winner)})

	r.notifier.Broadcast(s.code, Event{Kind: EventGameEnded, Code: s.code, Winner: winner, Roster: s.roster()})
	LogDBState("after game end")
}

func winnerTitle(w Winner) string {
	if w == WinnerMafia {
		return "Mafia"
	}
	return "Town"
}
