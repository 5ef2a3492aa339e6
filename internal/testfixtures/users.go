package testfixtures

import "github.com/weiawesome/wes-totp-chat/internal/domain"

var (
	Alice = domain.User{ID: "u-alice", Username: "alice", Email: "alice@example.com"}
	Bob   = domain.User{ID: "u-bob", Username: "bob", Email: "bob@example.com"}
	Carol = domain.User{ID: "u-carol", Username: "carol", Email: "carol@example.com"}
)
