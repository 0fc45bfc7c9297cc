// client.go — HTTP-клиент к Microsoft Graph для облачного каталога и почты.
// Реализует получение application token через Client Credentials flow,
// кэширование токена (обновление за 30s до expiration), ограничение частоты
// запросов и повтор при 429/503 с учётом Retry-After.
// Операции: ListUsers, GetUser, ListSponsors, DisableUser, DeleteUser, SendMail, GrantedRoles.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// userSelect — поля пользователя, нужные движку.
const userSelect = "id,userPrincipalName,accountEnabled,onPremisesSyncEnabled,onPremisesSamAccountName,mail,createdDateTime,signInActivity"

// maxAttempts — сколько раз повторяется запрос при 429/503.
const maxAttempts = 3

// maxRetryDelay — верхняя граница ожидания по Retry-After.
const maxRetryDelay = 30 * time.Second

// Options — параметры подключения к Graph.
type Options struct {
	// BaseURL — базовый URL Graph API (например, https://graph.microsoft.com/v1.0)
	BaseURL string
	// AuthorityURL — сервер авторизации (например, https://login.microsoftonline.com)
	AuthorityURL string
	// TenantID — ID тенанта
	TenantID string
	// ClientID, ClientSecret — credentials приложения
	ClientID     string
	ClientSecret string
	// RPS — ограничение запросов в секунду (0 — без ограничения)
	RPS float64
}

// Client — HTTP-клиент к Microsoft Graph.
type Client struct {
	baseURL      string
	authorityURL string
	tenantID     string
	clientID     string
	clientSecret string

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	// Кэш токена доступа
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New создаёт клиент к Graph.
// httpClient — HTTP-клиент (может содержать TLS конфигурацию).
func New(opts Options, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}

	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		authorityURL: strings.TrimRight(opts.AuthorityURL, "/"),
		tenantID:     opts.TenantID,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		httpClient:   httpClient,
		limiter:      rate.NewLimiter(limit, 1),
		logger:       logger.With(slog.String("component", "graph_client")),
	}
}

// Connect проверяет учётные данные приложения, получая токен.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.getToken(ctx); err != nil {
		return fmt.Errorf("подключение к Graph: %w", err)
	}
	return nil
}

// --- Аутентификация ---

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.authorityURL, url.PathEscape(c.tenantID))
}

// scope возвращает scope ".default" для ресурса Graph.
func (c *Client) scope() string {
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Host == "" {
		return "https://graph.microsoft.com/.default"
	}
	return u.Scheme + "://" + u.Host + "/.default"
}

// getToken возвращает актуальный access token, обновляя при необходимости.
// Токен обновляется за 30 секунд до истечения.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Graph токен обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {c.scope()},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Graph: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("сервер авторизации вернул статус %d при запросе токена: %s", resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("сервер авторизации вернул пустой токен")
	}

	return &token, nil
}

// GrantedRoles возвращает application roles из собственного токена (без проверки подписи).
func (c *Client) GrantedRoles(ctx context.Context) ([]string, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("разбор токена: %w", err)
	}

	raw, ok := claims["roles"].([]any)
	if !ok {
		return nil, nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles, nil
}

// --- HTTP helpers ---

// doAuthorized выполняет HTTP-запрос к Graph с авторизацией.
// target — путь относительно baseURL либо абсолютный URL (@odata.nextLink).
func (c *Client) doAuthorized(ctx context.Context, method, target string, body any) (*http.Response, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
	}

	reqURL := target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		reqURL = c.baseURL + target
	}

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("ожидание лимита запросов: %w", err)
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("создание запроса: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		throttled := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable
		if !throttled || attempt >= maxAttempts {
			return resp, nil
		}

		delay := retryAfter(resp.Header.Get("Retry-After"), attempt)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		c.logger.Warn("Graph ограничил частоту запросов, повтор",
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// retryAfter разбирает заголовок Retry-After (секунды). Без заголовка — линейная задержка.
func retryAfter(header string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		if d > maxRetryDelay {
			return maxRetryDelay
		}
		return d
	}
	return time.Duration(attempt) * time.Second
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа Graph: %w", err)
		}
	}

	return nil
}

// checkResponse проверяет статус ответа (для запросов без тела ответа).
func checkResponse(resp *http.Response, expectedStatus int) error {
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return nil
}

// mapNotFound превращает 404 в model.ErrAccountNotFound.
func mapNotFound(err error, id string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", model.ErrAccountNotFound, id)
	}
	return err
}

// escapeODataString экранирует строковый литерал OData.
func escapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// --- Users API ---

// ListUsers возвращает пользователей, UPN которых начинается с одного из префиксов.
// Пользователь, подходящий под несколько префиксов, возвращается один раз.
func (c *Client) ListUsers(ctx context.Context, prefixes []string) ([]model.CloudAccount, error) {
	seen := make(map[string]bool)
	var result []model.CloudAccount

	for _, prefix := range prefixes {
		q := url.Values{}
		q.Set("$filter", fmt.Sprintf("startswith(userPrincipalName,'%s')", escapeODataString(prefix)))
		q.Set("$select", userSelect)
		q.Set("$top", "999")
		next := "/users?" + q.Encode()

		for next != "" {
			resp, err := c.doAuthorized(ctx, http.MethodGet, next, nil)
			if err != nil {
				return nil, fmt.Errorf("Graph ListUsers: %w", err)
			}

			var page userPage
			if err := decodeResponse(resp, &page); err != nil {
				return nil, fmt.Errorf("Graph ListUsers: %w", err)
			}

			for _, u := range page.Value {
				if seen[u.ID] {
					continue
				}
				seen[u.ID] = true
				result = append(result, u.Account())
			}
			next = page.NextLink
		}
	}

	c.logger.Debug("Пользователи Graph получены", slog.Int("count", len(result)))
	return result, nil
}

// GetUser возвращает пользователя по object id.
func (c *Client) GetUser(ctx context.Context, objectID string) (model.CloudAccount, error) {
	path := fmt.Sprintf("/users/%s?$select=%s", url.PathEscape(objectID), userSelect)

	resp, err := c.doAuthorized(ctx, http.MethodGet, path, nil)
	if err != nil {
		return model.CloudAccount{}, fmt.Errorf("Graph GetUser: %w", err)
	}

	var user User
	if err := decodeResponse(resp, &user); err != nil {
		return model.CloudAccount{}, fmt.Errorf("Graph GetUser: %w", mapNotFound(err, objectID))
	}

	return user.Account(), nil
}

// ListSponsors возвращает спонсоров пользователя. Нет спонсоров — пустой срез.
func (c *Client) ListSponsors(ctx context.Context, objectID string) ([]model.Sponsor, error) {
	next := fmt.Sprintf("/users/%s/sponsors?$select=id,mail,userPrincipalName", url.PathEscape(objectID))

	sponsors := []model.Sponsor{}
	for next != "" {
		resp, err := c.doAuthorized(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("Graph ListSponsors: %w", err)
		}

		var page sponsorPage
		if err := decodeResponse(resp, &page); err != nil {
			return nil, fmt.Errorf("Graph ListSponsors: %w", mapNotFound(err, objectID))
		}

		for _, o := range page.Value {
			sponsors = append(sponsors, model.Sponsor{Mail: o.Mail, UserPrincipalName: o.UserPrincipalName})
		}
		next = page.NextLink
	}

	return sponsors, nil
}

// DisableUser выключает вход пользователя (accountEnabled=false).
func (c *Client) DisableUser(ctx context.Context, objectID string) error {
	path := "/users/" + url.PathEscape(objectID)
	body := map[string]bool{"accountEnabled": false}

	resp, err := c.doAuthorized(ctx, http.MethodPatch, path, body)
	if err != nil {
		return fmt.Errorf("Graph DisableUser: %w", err)
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("Graph DisableUser: %w", mapNotFound(err, objectID))
	}

	c.logger.Info("Облачная учётка отключена", slog.String("object_id", objectID))
	return nil
}

// DeleteUser удаляет пользователя (в корзину Entra ID на 30 дней).
func (c *Client) DeleteUser(ctx context.Context, objectID string) error {
	path := "/users/" + url.PathEscape(objectID)

	resp, err := c.doAuthorized(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("Graph DeleteUser: %w", err)
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("Graph DeleteUser: %w", mapNotFound(err, objectID))
	}

	c.logger.Info("Облачная учётка удалена", slog.String("object_id", objectID))
	return nil
}

// --- Mail API ---

// SendMail отправляет HTML-письмо от имени почтового ящика sender.
func (c *Client) SendMail(ctx context.Context, sender, to, subject, htmlBody string) error {
	path := fmt.Sprintf("/users/%s/sendMail", url.PathEscape(sender))
	body := sendMailRequest{
		Message: mailMessage{
			Subject:      subject,
			Body:         itemBody{ContentType: "HTML", Content: htmlBody},
			ToRecipients: []recipient{{EmailAddress: emailAddress{Address: to}}},
		},
		SaveToSentItems: true,
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("Graph SendMail: %w", err)
	}

	if err := checkResponse(resp, http.StatusAccepted); err != nil {
		return fmt.Errorf("Graph SendMail: %w", err)
	}

	return nil
}
