package pagination

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrBadToken is returned for callback data that is not a pagination token
var ErrBadToken = errors.New("malformed pagination token")

var tokenPattern = regexp.MustCompile(`^next:(\d+):(\d+)$`)

// Token is the callback payload of the Next button
type Token struct {
	SessionID int64
	NextIndex int
}

// String encodes the token as next:{sessionId}:{nextIndex}
func (t Token) String() string {
	return fmt.Sprintf("next:%d:%d", t.SessionID, t.NextIndex)
}

// ParseToken decodes callback data
func ParseToken(data string) (Token, error) {
	m := tokenPattern.FindStringSubmatch(data)
	if m == nil {
		return Token{}, ErrBadToken
	}
	sessionID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Token{}, ErrBadToken
	}
	next, err := strconv.Atoi(m[2])
	if err != nil {
		return Token{}, ErrBadToken
	}
	return Token{SessionID: sessionID, NextIndex: next}, nil
}
