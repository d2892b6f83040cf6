package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"echohub/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestIntegration(t *testing.T) {
	tmp := t.TempDir()
	apiAddr := "127.0.0.1:8891"

	_ = os.Setenv("ECHOHUB_DB", filepath.Join(tmp, "integration_test.db"))
	_ = os.Setenv("UPLOADS_PATH", filepath.Join(tmp, "uploads"))
	_ = os.Setenv("API_ADDR", apiAddr)
	_ = os.Setenv("AUTH_SECRET", "very-secure-test-secret")
	defer func() {
		_ = os.Unsetenv("ECHOHUB_DB")
		_ = os.Unsetenv("UPLOADS_PATH")
		_ = os.Unsetenv("API_ADDR")
		_ = os.Unsetenv("AUTH_SECRET")
	}()

	// Start server in background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx); err != nil && err != context.Canceled {
			t.Errorf("Server error: %v", err)
		}
	}()

	baseURL := "http://" + apiAddr
	waitForServer(t, baseURL+"/api/auth/check", 20)

	client := &http.Client{}

	// Step 1: Sign up two users
	alice, aliceToken := signup(t, client, baseURL, "alice@example.com", "Alice", "alicepass")
	bob, bobToken := signup(t, client, baseURL, "bob@example.com", "Bob", "bobpass99")
	require.NotEqual(t, alice.ID, bob.ID)

	// Step 2: Handshake without a valid token is rejected before upgrade
	wsURL := "ws://" + apiAddr + "/api/chat"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	// Step 3: Alice connects and sees herself online
	aliceWS := dialWS(t, wsURL, aliceToken)
	defer func() { _ = aliceWS.Close() }()

	ev := readEvent(t, aliceWS, models.ServerEventTypePresenceChanged)
	require.Contains(t, ev.Online, alice.ID)

	// Step 4: Bob connects, both sides see both users online
	bobWS := dialWS(t, wsURL, bobToken)
	defer func() { _ = bobWS.Close() }()

	ev = readEvent(t, bobWS, models.ServerEventTypePresenceChanged)
	require.ElementsMatch(t, []string{alice.ID, bob.ID}, ev.Online)

	ev = readEvent(t, aliceWS, models.ServerEventTypePresenceChanged)
	require.ElementsMatch(t, []string{alice.ID, bob.ID}, ev.Online)

	// Step 5: Alice sends a message over REST, Bob receives it in realtime
	sent := sendMessage(t, client, baseURL, aliceToken, bob.ID, "**hello** bob")
	require.Equal(t, int64(1), sent.Seq)
	require.Equal(t, alice.ID, sent.SenderID)
	require.Contains(t, sent.HTML, "<strong>hello</strong>")

	ev = readEvent(t, bobWS, models.ServerEventTypeMessageDelivered)
	require.NotNil(t, ev.Message)
	require.Equal(t, sent.ID, ev.Message.ID)
	require.Equal(t, alice.ID, ev.Message.SenderID)

	// Step 6: Ephemeral direct event, Alice -> Bob over the socket
	err = aliceWS.WriteJSON(models.ClientEvent{
		Type:         models.ClientEventTypeSendDirect,
		TargetUserID: bob.ID,
		Payload:      json.RawMessage(`{"typing":true}`),
	})
	require.NoError(t, err)

	ev = readEvent(t, bobWS, models.ServerEventTypeDirect)
	require.Equal(t, alice.ID, ev.SenderID)
	require.JSONEq(t, `{"typing":true}`, string(ev.Payload))

	// Step 7: Bob disconnects, Alice sees the shrunken online set
	require.NoError(t, bobWS.Close())

	ev = readEvent(t, aliceWS, models.ServerEventTypePresenceChanged)
	require.ElementsMatch(t, []string{alice.ID}, ev.Online)

	// Step 8: Sending to an offline user still persists
	sent = sendMessage(t, client, baseURL, aliceToken, bob.ID, "are you there?")
	require.Equal(t, int64(2), sent.Seq)

	// Step 9: Conversation history is complete and ordered
	req, _ := http.NewRequest("GET", baseURL+"/api/messages/"+bob.ID, nil)
	req.Header.Set("token", aliceToken)
	histResp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = histResp.Body.Close() }()
	require.Equal(t, http.StatusOK, histResp.StatusCode)

	var history []models.Message
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&history))
	require.Len(t, history, 2)
	require.Equal(t, int64(1), history[0].Seq)
	require.Equal(t, int64(2), history[1].Seq)

	// Step 10: Contact list excludes the caller
	reqUsers, _ := http.NewRequest("GET", baseURL+"/api/messages/users", nil)
	reqUsers.Header.Set("token", bobToken)
	usersResp, err := client.Do(reqUsers)
	require.NoError(t, err)
	defer func() { _ = usersResp.Body.Close() }()
	require.Equal(t, http.StatusOK, usersResp.StatusCode)

	var users []models.User
	require.NoError(t, json.NewDecoder(usersResp.Body).Decode(&users))
	require.Len(t, users, 1)
	require.Equal(t, alice.ID, users[0].ID)
}

func signup(t *testing.T, client *http.Client, baseURL, email, fullName, password string) (models.User, string) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"email":    email,
		"fullName": fullName,
		"password": password,
	})
	req, err := http.NewRequest("POST", baseURL+"/api/auth/signup", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", baseURL)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var user models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))

	var token string
	for _, c := range resp.Cookies() {
		if c.Name == "token" {
			token = c.Value
		}
	}
	require.NotEmpty(t, token)

	return user, token
}

func sendMessage(t *testing.T, client *http.Client, baseURL, token, receiverID, text string) models.Message {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequest("POST", baseURL+"/api/messages/send/"+receiverID, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", baseURL)
	req.Header.Set("token", token)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	return msg
}

func dialWS(t *testing.T, wsURL, token string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("token", token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return conn
}

// readEvent reads until an event of the wanted type arrives, skipping
// anything else (presence updates interleave freely with deliveries).
func readEvent(t *testing.T, conn *websocket.Conn, want models.ServerEventType) models.ServerEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev models.ServerEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == want {
			return ev
		}
	}
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()

	client := &http.Client{Timeout: 500 * time.Millisecond}
	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
