package usecase

import (
	authdomain "mailrecall-backend/internal/auth/domain"
	authdto "mailrecall-backend/internal/auth/dto"
)

// AuthUsecase defines the interface for authentication use cases
type AuthUsecase interface {
	Login(req *authdto.LoginRequest) (*authdto.TokenResponse, error)
	Register(req *authdto.RegisterRequest) (*authdto.TokenResponse, error)
	GoogleSignIn(req *authdto.GoogleSignInRequest) (*authdto.TokenResponse, error)
	// ConnectImapMailbox validates the credentials against the server and
	// stores them (password encrypted) on the account.
	ConnectImapMailbox(userID string, req *authdto.ImapConnectRequest) error
	RefreshToken(refreshToken string) (*authdto.TokenResponse, error)
	Logout(refreshToken string) error
	ValidateToken(tokenString string) (*authdomain.User, error)
}
