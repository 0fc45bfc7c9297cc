package graph

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockGraph создаёт mock HTTP-сервер Graph и сервер авторизации.
// routes регистрирует обработчики Graph API под /v1.0.
func setupMockGraph(t *testing.T, tokenHandler http.HandlerFunc, routes func(r chi.Router)) (*httptest.Server, *Client) {
	t.Helper()

	r := chi.NewRouter()

	// Token endpoint
	r.Post("/tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, req *http.Request) {
		if tokenHandler != nil {
			tokenHandler(w, req)
			return
		}
		// Дефолтный ответ: валидный токен на 3600 секунд
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "test-access-token",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	})

	if routes != nil {
		r.Route("/v1.0", routes)
	}

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	client := New(Options{
		BaseURL:      server.URL + "/v1.0",
		AuthorityURL: server.URL,
		TenantID:     "tenant-1",
		ClientID:     "lifecycle-app",
		ClientSecret: "test-secret",
	}, server.Client(), testLogger())

	return server, client
}

// writeJSON пишет JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// TestClient_TokenCaching проверяет кэширование токена.
func TestClient_TokenCaching(t *testing.T) {
	var tokenRequests atomic.Int32

	_, client := setupMockGraph(t,
		func(w http.ResponseWriter, r *http.Request) {
			tokenRequests.Add(1)
			if err := r.ParseForm(); err != nil {
				t.Errorf("ParseForm: %v", err)
			}
			if r.Form.Get("grant_type") != "client_credentials" {
				t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
			}
			if r.Form.Get("client_id") != "lifecycle-app" {
				t.Errorf("client_id = %q", r.Form.Get("client_id"))
			}
			if !strings.HasSuffix(r.Form.Get("scope"), "/.default") {
				t.Errorf("scope = %q, ожидается суффикс /.default", r.Form.Get("scope"))
			}
			writeJSON(w, http.StatusOK, TokenResponse{AccessToken: "cached-token", ExpiresIn: 3600})
		},
		nil,
	)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		token, err := client.getToken(ctx)
		if err != nil {
			t.Fatalf("Ошибка получения токена: %v", err)
		}
		if token != "cached-token" {
			t.Errorf("ожидался cached-token, получен %s", token)
		}
	}

	if n := tokenRequests.Load(); n != 1 {
		t.Errorf("ожидался 1 запрос токена, было %d", n)
	}
}

// TestClient_TokenRefresh проверяет обновление почти истёкшего токена.
func TestClient_TokenRefresh(t *testing.T) {
	var tokenRequests atomic.Int32

	_, client := setupMockGraph(t,
		func(w http.ResponseWriter, r *http.Request) {
			tokenRequests.Add(1)
			// Токен с коротким сроком — внутри окна обновления в 30 секунд
			writeJSON(w, http.StatusOK, TokenResponse{AccessToken: "short-token", ExpiresIn: 10})
		},
		nil,
	)

	ctx := context.Background()
	if _, err := client.getToken(ctx); err != nil {
		t.Fatalf("Ошибка получения токена: %v", err)
	}
	if _, err := client.getToken(ctx); err != nil {
		t.Fatalf("Ошибка получения токена: %v", err)
	}

	if n := tokenRequests.Load(); n != 2 {
		t.Errorf("ожидалось 2 запроса токена, было %d", n)
	}
}

// TestClient_ConnectFailure проверяет ошибку при отказе сервера авторизации.
func TestClient_ConnectFailure(t *testing.T) {
	_, client := setupMockGraph(t,
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		},
		nil,
	)

	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("ожидалась ошибка подключения")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("ошибка должна содержать статус 401: %v", err)
	}
}

// TestClient_ListUsers проверяет фильтр по префиксу, постраничность и дедупликацию.
func TestClient_ListUsers(t *testing.T) {
	var serverURL string
	var filters []string

	server, client := setupMockGraph(t, nil, func(r chi.Router) {
		r.Get("/users", func(w http.ResponseWriter, req *http.Request) {
			if got := req.Header.Get("Authorization"); got != "Bearer test-access-token" {
				t.Errorf("Authorization = %q", got)
			}
			q := req.URL.Query()
			// Ссылка @odata.nextLink несёт параметры запроса внутри $skiptoken
			if q.Get("$skiptoken") == "" && !strings.Contains(q.Get("$select"), "signInActivity") {
				t.Errorf("$select без signInActivity: %q", q.Get("$select"))
			}

			if q.Get("$skiptoken") == "p2" {
				writeJSON(w, http.StatusOK, userPage{Value: []User{
					{ID: "id-2", UserPrincipalName: "adm-bob@corp.example", AccountEnabled: false},
				}})
				return
			}

			filters = append(filters, q.Get("$filter"))
			switch q.Get("$filter") {
			case "startswith(userPrincipalName,'adm')":
				synced := true
				signIn := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
				writeJSON(w, http.StatusOK, userPage{
					Value: []User{{
						ID:                    "id-1",
						UserPrincipalName:     "adm-alice@corp.example",
						AccountEnabled:        true,
						OnPremisesSyncEnabled: &synced,
						SignInActivity:        &SignInActivity{LastSignInDateTime: &signIn},
					}},
					NextLink: serverURL + "/v1.0/users?%24skiptoken=p2",
				})
			case "startswith(userPrincipalName,'o''brien')":
				writeJSON(w, http.StatusOK, userPage{Value: []User{
					{ID: "id-1", UserPrincipalName: "adm-alice@corp.example"},
					{ID: "id-3", UserPrincipalName: "o'brien-admin@corp.example"},
				}})
			default:
				writeJSON(w, http.StatusOK, userPage{})
			}
		})
	})
	serverURL = server.URL

	users, err := client.ListUsers(context.Background(), []string{"adm", "o'brien"})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}

	if len(filters) != 2 {
		t.Fatalf("ожидалось 2 фильтра, получено %v", filters)
	}
	if len(users) != 3 {
		t.Fatalf("ожидалось 3 пользователя, получено %d", len(users))
	}
	if users[0].ObjectID != "id-1" || !users[0].Synced || users[0].LastSignIn == nil {
		t.Errorf("первый пользователь разобран неверно: %+v", users[0])
	}
	if users[1].ObjectID != "id-2" || users[1].Enabled {
		t.Errorf("второй пользователь (со второй страницы) разобран неверно: %+v", users[1])
	}
	if users[2].ObjectID != "id-3" || users[2].Synced {
		t.Errorf("третий пользователь разобран неверно: %+v", users[2])
	}
}

// TestClient_GetUser проверяет чтение пользователя и NotFound.
func TestClient_GetUser(t *testing.T) {
	_, client := setupMockGraph(t, nil, func(r chi.Router) {
		r.Get("/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			if chi.URLParam(req, "id") != "id-1" {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "Request_ResourceNotFound"}})
				return
			}
			created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
			writeJSON(w, http.StatusOK, User{
				ID:                "id-1",
				UserPrincipalName: "adm-alice@corp.example",
				AccountEnabled:    true,
				CreatedDateTime:   &created,
			})
		})
	})

	ctx := context.Background()

	user, err := client.GetUser(ctx, "id-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !user.Enabled || user.Created == nil || user.Created.Year() != 2024 {
		t.Errorf("пользователь разобран неверно: %+v", user)
	}

	_, err = client.GetUser(ctx, "missing")
	if !errors.Is(err, model.ErrAccountNotFound) {
		t.Errorf("ожидалась model.ErrAccountNotFound, получено %v", err)
	}
}

// TestClient_GetUserServerError проверяет, что 500 не считается NotFound.
func TestClient_GetUserServerError(t *testing.T) {
	_, client := setupMockGraph(t, nil, func(r chi.Router) {
		r.Get("/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})
	})

	_, err := client.GetUser(context.Background(), "id-1")
	if err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if errors.Is(err, model.ErrAccountNotFound) {
		t.Error("500 не должна превращаться в ErrAccountNotFound")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("ожидалась *APIError со статусом 500, получено %v", err)
	}
}

// TestClient_ListSponsors проверяет чтение спонсоров.
func TestClient_ListSponsors(t *testing.T) {
	_, client := setupMockGraph(t, nil, func(r chi.Router) {
		r.Get("/users/{id}/sponsors", func(w http.ResponseWriter, req *http.Request) {
			if chi.URLParam(req, "id") == "lonely" {
				writeJSON(w, http.StatusOK, sponsorPage{})
				return
			}
			writeJSON(w, http.StatusOK, sponsorPage{Value: []DirectoryObject{
				{ID: "s1", Mail: "", UserPrincipalName: "sponsor@corp.example"},
				{ID: "s2", Mail: "second@corp.example"},
			}})
		})
	})

	ctx := context.Background()

	sponsors, err := client.ListSponsors(ctx, "id-1")
	if err != nil {
		t.Fatalf("ListSponsors: %v", err)
	}
	if len(sponsors) != 2 || sponsors[0].UserPrincipalName != "sponsor@corp.example" || sponsors[1].Mail != "second@corp.example" {
		t.Errorf("спонсоры разобраны неверно: %+v", sponsors)
	}

	none, err := client.ListSponsors(ctx, "lonely")
	if err != nil {
		t.Fatalf("ListSponsors: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("ожидался пустой срез (не nil), получено %#v", none)
	}
}

// TestClient_DisableAndDelete проверяет PATCH accountEnabled=false и DELETE.
func TestClient_DisableAndDelete(t *testing.T) {
	var patched, deleted atomic.Int32

	_, client := setupMockGraph(t, nil, func(r chi.Router) {
		r.Patch("/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			var body map[string]any
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				t.Errorf("декодирование тела: %v", err)
			}
			if body["accountEnabled"] != false {
				t.Errorf("accountEnabled = %v, ожидается false", body["accountEnabled"])
			}
			patched.Add(1)
			w.WriteHeader(http.StatusNoContent)
		})
		r.Delete("/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			if chi.URLParam(req, "id") == "gone" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			deleted.Add(1)
			w.WriteHeader(http.StatusNoContent)
		})
	})

	ctx := context.Background()

	if err := client.DisableUser(ctx, "id-1"); err != nil {
		t.Fatalf("DisableUser: %v", err)
	}
	if err := client.DeleteUser(ctx, "id-1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := client.DeleteUser(ctx, "gone"); !errors.Is(err, model.ErrAccountNotFound) {
		t.Errorf("ожидалась model.ErrAccountNotFound, получено %v", err)
	}

	if patched.Load() != 1 || deleted.Load() != 1 {
		t.Errorf("patched=%d deleted=%d, ожидается 1/1", patched.Load(), deleted.Load())
	}
}

// TestClient_SendMail проверяет тело запроса sendMail.
func TestClient_SendMail(t *testing.T) {
	_, client := setupMockGraph(t, nil, func(r chi.Router) {
		r.Post("/users/{sender}/sendMail", func(w http.ResponseWriter, req *http.Request) {
			if chi.URLParam(req, "sender") != "lifecycle@corp.example" {
				t.Errorf("sender = %q", chi.URLParam(req, "sender"))
			}
			var body sendMailRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				t.Errorf("декодирование тела: %v", err)
			}
			if body.Message.Subject != "Тема" || body.Message.Body.ContentType != "HTML" {
				t.Errorf("сообщение = %+v", body.Message)
			}
			if len(body.Message.ToRecipients) != 1 || body.Message.ToRecipients[0].EmailAddress.Address != "owner@corp.example" {
				t.Errorf("получатели = %+v", body.Message.ToRecipients)
			}
			w.WriteHeader(http.StatusAccepted)
		})
	})

	err := client.SendMail(context.Background(), "lifecycle@corp.example", "owner@corp.example", "Тема", "<p>текст</p>")
	if err != nil {
		t.Fatalf("SendMail: %v", err)
	}
}

// TestClient_SendMailFailure проверяет ошибку доставки.
func TestClient_SendMailFailure(t *testing.T) {
	_, client := setupMockGraph(t, nil, func(r chi.Router) {
		r.Post("/users/{sender}/sendMail", func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "mailbox not found", http.StatusNotFound)
		})
	})

	err := client.SendMail(context.Background(), "nobody@corp.example", "owner@corp.example", "s", "b")
	if err == nil {
		t.Fatal("ожидалась ошибка отправки")
	}
}

// TestClient_RetryOnThrottling проверяет повтор после 429 с Retry-After.
func TestClient_RetryOnThrottling(t *testing.T) {
	var calls atomic.Int32

	_, client := setupMockGraph(t, nil, func(r chi.Router) {
		r.Get("/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeJSON(w, http.StatusOK, User{ID: "id-1", AccountEnabled: true})
		})
	})

	user, err := client.GetUser(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.ObjectID != "id-1" {
		t.Errorf("ObjectID = %q", user.ObjectID)
	}
	if calls.Load() != 2 {
		t.Errorf("ожидалось 2 вызова, было %d", calls.Load())
	}
}

// TestClient_RetryGivesUp проверяет, что повторы ограничены.
func TestClient_RetryGivesUp(t *testing.T) {
	var calls atomic.Int32

	_, client := setupMockGraph(t, nil, func(r chi.Router) {
		r.Get("/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			calls.Add(1)
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	})

	if _, err := client.GetUser(context.Background(), "id-1"); err == nil {
		t.Fatal("ожидалась ошибка после исчерпания повторов")
	}
	if calls.Load() != maxAttempts {
		t.Errorf("ожидалось %d вызова, было %d", maxAttempts, calls.Load())
	}
}

// TestClient_GrantedRoles проверяет извлечение roles из токена.
func TestClient_GrantedRoles(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"roles": []string{"User.ReadWrite.All", "Mail.Send"},
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("подпись токена: %v", err)
	}

	_, client := setupMockGraph(t,
		func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, TokenResponse{AccessToken: signed, ExpiresIn: 3600})
		},
		nil,
	)

	roles, err := client.GrantedRoles(context.Background())
	if err != nil {
		t.Fatalf("GrantedRoles: %v", err)
	}
	if len(roles) != 2 || roles[0] != "User.ReadWrite.All" || roles[1] != "Mail.Send" {
		t.Errorf("roles = %v", roles)
	}
}

func TestRetryAfter(t *testing.T) {
	if d := retryAfter("5", 1); d != 5*time.Second {
		t.Errorf("retryAfter(5) = %v", d)
	}
	if d := retryAfter("3600", 1); d != maxRetryDelay {
		t.Errorf("retryAfter(3600) = %v, ожидается %v", d, maxRetryDelay)
	}
	if d := retryAfter("", 2); d != 2*time.Second {
		t.Errorf("retryAfter(\"\") = %v", d)
	}
}
