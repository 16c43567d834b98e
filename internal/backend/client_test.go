package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goopchat/internal/proto"
)

func TestClientEndpoints(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		mu.Unlock()
		c, err := r.Cookie(CookieName)
		if err != nil || c.Value != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Unauthorized - No Token Provided"}`))
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/messages/bob":
			_ = json.NewEncoder(w).Encode([]proto.Message{{ID: "m1", SenderID: "bob", Text: "hi"}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/messages/send/bob":
			var in Outgoing
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			_ = json.NewEncoder(w).Encode(proto.Message{ID: "m2", SenderID: "alice", ReceiverID: "bob", Text: in.Text})
		case r.Method == http.MethodPut && r.URL.Path == "/api/messages/read/bob":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/api/users":
			_ = json.NewEncoder(w).Encode([]User{{ID: "bob", FullName: "Bob " + r.URL.Query().Get("search")}})
		case r.URL.Path == "/api/notifications/subscribe":
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL+"/api/", "tok", 0)

	msgs, err := c.Messages(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)

	sent, err := c.Send(ctx, "bob", Outgoing{Text: "cipher"})
	require.NoError(t, err)
	assert.Equal(t, "m2", sent.ID)
	assert.Equal(t, "cipher", sent.Text)

	require.NoError(t, c.MarkRead(ctx, "bob"))

	users, err := c.SearchUsers(ctx, "b o")
	require.NoError(t, err)
	assert.Equal(t, "Bob b o", users[0].FullName)

	require.NoError(t, c.RegisterPush(ctx, PushSubscription{Endpoint: "https://push.example/x"}))

	_, err = c.Messages(ctx, "nobody/else")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "nope", se.Message)

	anon := NewClient(srv.URL+"/api", "", 0)
	_, err = anon.Users(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "GET /api/users?search=b+o")
}

func TestUserIDFromToken(t *testing.T) {
	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
		require.NoError(t, err)
		return s
	}
	id, err := UserIDFromToken(sign(jwt.MapClaims{"userId": "64f0c0ffee"}))
	require.NoError(t, err)
	assert.Equal(t, "64f0c0ffee", id)

	id, err = UserIDFromToken(sign(jwt.MapClaims{"user_id": 42}))
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	_, err = UserIDFromToken(sign(jwt.MapClaims{"name": "x"}))
	assert.Error(t, err)
	_, err = UserIDFromToken("not-a-token")
	assert.Error(t, err)
}
