package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/organizer/internal/model"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	defaultGoogleHTTPTimeout = 10 * time.Second

	// Googleのレスポンスとして読み込む最大サイズ
	maxGoogleResponseBytes = 1 << 20
)

// GoogleOAuthConfig はGoogleサインインの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// nilの場合はタイムアウト付きのクライアントを使う
	HTTPClient *http.Client
}

// GoogleOAuthProvider は認可コードフローでGoogleアカウントを確認する。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultGoogleHTTPTimeout}
	}
	return &GoogleOAuthProvider{config: config}
}

// GetLoginURL はアカウント選択画面を必ず表示するGoogleの認可URLを返す。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
		"prompt":        {"select_account"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// googleError はGoogleのエラーレスポンス。
type googleError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// GoogleAPIError はGoogleが2xx以外を返したことを表す。
type GoogleAPIError struct {
	Endpoint string
	Status   int
	Code     string
}

func (e *GoogleAPIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("google %s returned %d (%s)", e.Endpoint, e.Status, e.Code)
	}
	return fmt.Sprintf("google %s returned %d", e.Endpoint, e.Status)
}

type googleToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// ExchangeCode は認可コードでアクセストークンを取得し、そのトークンでユーザー情報を引く。
// 確認済みでないメールアドレスはアカウントに載せない。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}
	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token googleToken
	if err := p.doJSON(tokenReq, "token", &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("google token response has no access_token")
	}

	infoReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	infoReq.Header.Set("Authorization", "Bearer "+token.AccessToken)

	var info googleUserInfo
	if err := p.doJSON(infoReq, "userinfo", &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("google userinfo response has no sub")
	}

	user := &OAuthUserInfo{
		ProviderUserID: info.Sub,
		Name:           info.Name,
		PictureURL:     info.Picture,
		Provider:       model.ProviderGoogle,
	}
	if info.EmailVerified {
		user.Email = info.Email
	}
	return user, nil
}

// doJSON はリクエストを送り、2xxならoutへデコードする。それ以外はGoogleAPIErrorを返す。
func (p *GoogleOAuthProvider) doJSON(req *http.Request, endpoint string, out any) error {
	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("google %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGoogleResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read google %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &GoogleAPIError{Endpoint: endpoint, Status: resp.StatusCode}
		var ge googleError
		if json.Unmarshal(body, &ge) == nil {
			apiErr.Code = ge.Code
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse google %s response: %w", endpoint, err)
	}
	return nil
}

var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
