/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Seednode/songroom/room"
)

// tokenSubject reads the sub claim of a JWT bearer token. The game server
// verifies the signature; the client only needs to know who it is.
func tokenSubject(token string) string {
	if token == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}

	return sub
}

// identity resolves the local participant: --player-id, then the token
// subject, then a fresh random id.
func (c *Config) identity() room.Participant {
	id := c.playerID
	if id == "" {
		id = tokenSubject(c.token)
	}
	if id == "" {
		id = uuid.NewString()
	}

	nickname := c.nickname
	if nickname == "" {
		nickname = id
	}

	return room.Participant{
		ID:       id,
		Nickname: nickname,
		Avatar:   c.avatar,
	}
}
