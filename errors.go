package main

import (
	"errors"
)

// Command rejections. Every one of these leaves the session untouched.
var (
	ErrNotFound            = errors.New("not found")
	ErrFull                = errors.New("lobby is full")
	ErrQuorumNotMet        = errors.New("not enough players")
	ErrNotHost             = errors.New("only the host can do that")
	ErrWrongPhase          = errors.New("not allowed in this phase")
	ErrNotAlive            = errors.New("player is not alive")
	ErrWrongRole           = errors.New("your role cannot do that")
	ErrInsufficientPlayers = errors.New("insufficient players for role table")
	ErrAlreadyJoined       = errors.New("already in a lobby")
	ErrAlreadyActed        = errors.New("already acted this night")
	ErrInvalidMessage      = errors.New("invalid message")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrFull, "full"},
	{ErrQuorumNotMet, "quorum_not_met"},
	{ErrNotHost, "not_host"},
	{ErrWrongPhase, "wrong_phase"},
	{ErrNotAlive, "not_alive"},
	{ErrWrongRole, "wrong_role"},
	{ErrInsufficientPlayers, "insufficient_players"},
	{ErrAlreadyJoined, "already_joined"},
	{ErrAlreadyActed, "already_acted"},
	{ErrInvalidMessage, "invalid_message"},
}

// errorCode maps an engine error to the stable code sent to clients.
func errorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}
