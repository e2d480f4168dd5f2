package main

import (
	"fmt"
	"log"
)

// CastVote records identity's day vote. An empty target abstains; the
// abstention counts toward the quorum but toward no tally.
func (r *Registry) CastVote(code, identity, target string) error {
	return r.withSession(code, func(s *Session) error {
		voter := s.player(identity)
		if voter == nil {
			return fmt.Errorf("%w: player %q", ErrNotFound, identity)
		}
		if s.phase != PhaseDay {
			return fmt.Errorf("%w: voting happens during the day", ErrWrongPhase)
		}
		if !voter.Alive {
			return fmt.Errorf("%w: dead players cannot vote", ErrNotAlive)
		}

		description := fmt.Sprintf("%s abstains", voter.Name)
		if target != "" {
			candidate := s.player(target)
			if candidate == nil {
				return fmt.Errorf("%w: target %q", ErrNotFound, target)
			}
			if !candidate.Alive {
				return fmt.Errorf("%w: cannot vote for a dead player", ErrNotAlive)
			}
			description = fmt.Sprintf("%s votes for %s", voter.Name, candidate.Name)
		}

		s.votes[identity] = target
		log.Printf("Day %d in session %s: %s", s.dayCount, s.code, description)
		r.record(s, ActionRecord{Actor: identity, Type: ActionDayVote, Target: target, Visibility: VisibilityPublic,
			Description: description})
		r.notifier.Broadcast(s.code, Event{Kind: EventVoteRecorded, Code: s.code, Voter: identity, Target: target, Abstain: target == ""})

		r.maybeResolveDay(s)
		return nil
	})
}

// tallyVotes returns the uniquely most voted target. A tied maximum or a
// vote made only of abstentions elects nobody.
func tallyVotes(votes map[string]string) (string, bool) {
	counts := make(map[string]int)
	for _, target := range votes {
		if target != "" {
			counts[target]++
		}
	}

	var leader string
	best, holders := 0, 0
	for target, n := range counts {
		switch {
		case n > best:
			leader, best, holders = target, n, 1
		case n == best:
			holders++
		}
	}
	if best == 0 || holders != 1 {
		return "", false
	}
	return leader, true
}

// dayReady holds once every living player has a recorded vote.
func dayReady(s *Session) bool {
	voters := 0
	for id := range s.votes {
		if p := s.player(id); p != nil && p.Alive {
			voters++
		}
	}
	return voters >= len(s.alivePlayers())
}

func (r *Registry) maybeResolveDay(s *Session) {
	if s.phase != PhaseDay {
		return
	}
	if !dayReady(s) {
		DebugLog("maybeResolveDay", "Session %s has %d/%d votes", s.code, len(s.votes), len(s.alivePlayers()))
		return
	}
	r.resolveDay(s)
}

// resolveDay eliminates the vote winner, if any, then moves to Night or ends
// the game. A second call for the same day does nothing.
func (r *Registry) resolveDay(s *Session) {
	if s.phase != PhaseDay {
		return
	}

	ev := Event{Kind: EventDayResolved, Code: s.code}
	if target, ok := tallyVotes(s.votes); ok {
		s.eliminate(target)
		p := s.player(target)
		ev.Eliminated = &target
		ev.RevealedRole = p.Role

		log.Printf("Town eliminated %s (%s), who was %s", target, p.Name, p.Role)
		r.addSystemMessage(s, fmt.Sprintf("%s was eliminated by the town. They were %s.", p.Name, p.Role.article()))
		r.record(s, ActionRecord{Type: ActionElimination, Target: target, Visibility: VisibilityPublic,
			Description: fmt.Sprintf("%s was eliminated (%s)", p.Name, p.Role)})
	} else {
		ev.NoDeath = true
		log.Printf("Day %d in session %s ended without an elimination", s.dayCount, s.code)
		r.addSystemMessage(s, "The town could not agree. Nobody was eliminated.")
		r.record(s, ActionRecord{Type: ActionElimination, Visibility: VisibilityPublic,
			Description: "Nobody was eliminated"})
	}

	s.votes = make(map[string]string)
	r.notifier.Broadcast(s.code, ev)

	if r.finishResolution(s) {
		return
	}
	r.beginNight(s)
}
