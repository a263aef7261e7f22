package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// viewerAudience is the aud claim of viewing-session tokens. It differs from the internal API
// audience so a viewer session can never be replayed as an internal access token.
const viewerAudience = "sign-viewer"

// AccessClaims holds JWT claims for an internal caller (the requester side of the product).
type AccessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// ViewerClaims binds a viewing session to one signature request.
type ViewerClaims struct {
	jwt.RegisteredClaims
	RequestID string `json:"request_id"`
}

// TokenProvider issues and validates JWTs using RS256 or ES256 (private/public key).
// Access tokens authenticate internal callers; viewer tokens mark a signer's viewing session.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	viewerTTL  time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on access claims and validated on every parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, viewerTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		viewerTTL:  viewerTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IssueAccess issues a short-lived access JWT for an internal user with an optional role.
func (p *TokenProvider) IssueAccess(userID, role string) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud).
// Returns userID and role, or ErrInvalidToken.
func (p *TokenProvider) ValidateAccess(tokenString string) (userID, role string, err error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims, p.audience); err != nil {
		return "", "", err
	}
	if claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Role, nil
}

// IssueViewerSession issues a viewing-session token for requestID. The jti doubles as the session id.
func (p *TokenProvider) IssueViewerSession(requestID string) (token, sessionID string, err error) {
	sessionID, err = generateJTI()
	if err != nil {
		return "", "", err
	}
	now := p.now()
	claims := ViewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{viewerAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.viewerTTL)),
		},
		RequestID: requestID,
	}
	token, err = p.sign(claims)
	return token, sessionID, err
}

// ValidateViewerSession returns the session id if tokenString is a live viewing session for requestID.
func (p *TokenProvider) ValidateViewerSession(tokenString, requestID string) (string, error) {
	claims := &ViewerClaims{}
	if err := p.parse(tokenString, claims, viewerAudience); err != nil {
		return "", err
	}
	if claims.RequestID == "" || claims.RequestID != requestID {
		return "", ErrInvalidToken
	}
	return claims.ID, nil
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return p.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	}, jwt.WithTimeFunc(p.now))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	if iss, _ := claims.GetIssuer(); iss != p.issuer {
		return ErrInvalidToken
	}
	aud, _ := claims.GetAudience()
	if !slices.Contains([]string(aud), audience) {
		return ErrInvalidToken
	}
	return nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
