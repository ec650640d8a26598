package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential はトークンが不正・未署名・期限切れのいずれかであることを表す。
// 呼び出し側はこれらを区別しない。
var ErrInvalidCredential = errors.New("認証情報が無効です")

// Claims は検証済みトークンから取り出した情報。
type Claims struct {
	// Subject はトークンの主体（ユーザーID）。
	Subject string
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// Verifier はHS256で署名されたトークンを検証する。
// 鍵は生成時に固定され、実行中に差し替えられることはない。
type Verifier struct {
	// secret は署名検証に使う共有鍵。
	secret []byte
	// parser は許可する署名方式と必須クレームを設定済みのパーサー。
	parser *jwt.Parser
}

// NewVerifier は共有鍵を使う新しいVerifierを生成する。
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify はトークンの署名と有効期限を検証し、主体と有効期限を返す。
// 主体はヘッダーの kid を優先し、無ければ sub クレームを使う。
// 先頭の "Bearer " は付いていてもいなくてもよい。
func (v *Verifier) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return Claims{}, ErrInvalidCredential
	}

	registered := &jwt.RegisteredClaims{}
	parsed, err := v.parser.ParseWithClaims(token, registered, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	subject, _ := parsed.Header["kid"].(string)
	if subject == "" {
		subject = registered.Subject
	}
	if subject == "" {
		return Claims{}, fmt.Errorf("%w: 主体が含まれていません", ErrInvalidCredential)
	}

	return Claims{
		Subject:   subject,
		ExpiresAt: registered.ExpiresAt.Time,
	}, nil
}

// GenerateJWT はkidヘッダーに主体を持つトークンを生成する。
// トークンの発行は認証局の責務であり、これは開発とテストでのみ使用する。
func GenerateJWT(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = subject
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// コンテキストキー。
const (
	contextKeyUserID = "user_id"
	contextKeyToken  = "token"
)

// JWTAuth はトークンを検証するGinミドルウェアを返す。
// 検証に失敗した場合はバックエンドを一切呼ばずに401を返す。
// 成功した場合、主体と元のAuthorizationヘッダー値をコンテキストに設定する。
func JWTAuth(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		claims, err := verifier.Verify(authHeader)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "User not authorized!",
			})
			return
		}

		c.Set(contextKeyUserID, claims.Subject)
		c.Set(contextKeyToken, authHeader)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return getString(c, contextKeyUserID)
}

// GetToken はバックエンドへ転送する元のAuthorizationヘッダー値を取得する。
func GetToken(c *gin.Context) string {
	return getString(c, contextKeyToken)
}

func getString(c *gin.Context, key string) string {
	v, _ := c.Get(key)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
