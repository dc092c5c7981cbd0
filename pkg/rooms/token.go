package rooms

import (
	"fmt"
	"time"

	"avatarlink/pkg/logic/session"

	"github.com/golang-jwt/jwt/v5"
)

// 入会 token 的有效期
const tokenTTL = 10 * time.Minute

// IssueToken 为指定角色签发房间的短期入会 token（HS256）
func (c *Client) IssueToken(roomID string, role session.Role) (string, error) {
	if roomID == "" {
		return "", fmt.Errorf("rooms: issue token: empty room id")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"exp":         now.Add(tokenTTL).Unix(),
		"apikey":      c.apiKey,
		"permissions": []string{"allow_join", "allow_mod"},
		"version":     2,
		"roles":       []string{"rtc"},
		"roomId":      roomID,
		"participant": role.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("rooms: sign token: %v", err)
	}
	return signed, nil
}
