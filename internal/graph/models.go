// Пакет graph — HTTP-клиент к Microsoft Graph REST API.
// models.go — модели данных Graph.
package graph

import (
	"fmt"
	"time"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// TokenResponse — ответ на запрос токена через Client Credentials flow.
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// User — пользователь Entra ID.
type User struct {
	ID                       string          `json:"id"`
	UserPrincipalName        string          `json:"userPrincipalName"`
	AccountEnabled           bool            `json:"accountEnabled"`
	OnPremisesSyncEnabled    *bool           `json:"onPremisesSyncEnabled"`
	OnPremisesSamAccountName string          `json:"onPremisesSamAccountName"`
	Mail                     string          `json:"mail"`
	CreatedDateTime          *time.Time      `json:"createdDateTime"`
	SignInActivity           *SignInActivity `json:"signInActivity"`
}

// SignInActivity — сведения о последних входах (требует AuditLog.Read.All).
type SignInActivity struct {
	LastSignInDateTime               *time.Time `json:"lastSignInDateTime"`
	LastNonInteractiveSignInDateTime *time.Time `json:"lastNonInteractiveSignInDateTime"`
}

// Account превращает пользователя Graph в доменную облачную учётку.
// Берётся только интерактивный вход: фоновые обновления токенов активностью не считаются.
func (u User) Account() model.CloudAccount {
	acct := model.CloudAccount{
		ObjectID:          u.ID,
		UserPrincipalName: u.UserPrincipalName,
		Enabled:           u.AccountEnabled,
		Synced:            u.OnPremisesSyncEnabled != nil && *u.OnPremisesSyncEnabled,
		Created:           u.CreatedDateTime,
		Mail:              u.Mail,
	}
	if u.SignInActivity != nil {
		acct.LastSignIn = u.SignInActivity.LastSignInDateTime
	}
	return acct
}

// DirectoryObject — элемент связи sponsors.
type DirectoryObject struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// userPage — страница коллекции users.
type userPage struct {
	Value    []User `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// sponsorPage — страница коллекции sponsors.
type sponsorPage struct {
	Value    []DirectoryObject `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// --- sendMail ---

type sendMailRequest struct {
	Message         mailMessage `json:"message"`
	SaveToSentItems bool        `json:"saveToSentItems"`
}

type mailMessage struct {
	Subject      string      `json:"subject"`
	Body         itemBody    `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

// APIError — ответ Graph с кодом вне 2xx.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Graph API вернул статус %d: %s", e.StatusCode, e.Body)
}
