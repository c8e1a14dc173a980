package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/raffle/pkg/client"
)

const (
	testPlayer = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testKey    = "rfl_key_0123456789abcdef0123456789abcdef0123456789abcdef"
)

// fakeServer records the last request body per path and answers with canned JSON.
type fakeServer struct {
	mu     sync.Mutex
	bodies map[string]string
	routes map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeServer(t *testing.T) (*fakeServer, *client.Client) {
	f := &fakeServer{bodies: map[string]string{}, routes: map[string]func(http.ResponseWriter, *http.Request){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.bodies[key] = string(body)
		h, ok := f.routes[key]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"no route"}}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, client.New(srv.URL, testKey)
}

func (f *fakeServer) handle(method, path string, status int, body string) {
	f.route(method, path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func (f *fakeServer) route(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeServer) body(method, path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[method+" "+path]
}

const statusJSON = `{"address":"0xa16E02E87b7454126E5E10d957A927A7F5B5d2be","state":"OPEN","entranceFee":"10000000000000000",
"entranceFeeEther":"0.01","interval":30,"players":2,"balance":"20000000000000000","recentWinner":"",
"lastTimestamp":1700000000,"pendingRequestId":null,"round":3,"subscriptionId":1,"keyHash":"0x00","callbackGasLimit":500000}`

func TestGetServer(t *testing.T) {
	origServer := server
	defer func() { server = origServer }()
	t.Chdir(t.TempDir())

	t.Run("flag takes precedence", func(t *testing.T) {
		server = "http://flag:8080"
		t.Setenv("RAFFLE_SERVER", "http://env:8080")
		assert.Equal(t, "http://flag:8080", getServer())
	})

	t.Run("env over config", func(t *testing.T) {
		server = ""
		t.Setenv("RAFFLE_SERVER", "http://env:8080")
		require.NoError(t, os.WriteFile(projectConfigFile, []byte(`server = "http://file:8080"`), 0644))
		defer os.Remove(projectConfigFile)
		assert.Equal(t, "http://env:8080", getServer())
	})

	t.Run("config file", func(t *testing.T) {
		server = ""
		t.Setenv("RAFFLE_SERVER", "")
		require.NoError(t, os.WriteFile(projectConfigFile, []byte(`server = "http://file:8080"`), 0644))
		defer os.Remove(projectConfigFile)
		assert.Equal(t, "http://file:8080", getServer())
	})

	t.Run("default", func(t *testing.T) {
		server = ""
		t.Setenv("RAFFLE_SERVER", "")
		assert.Equal(t, "http://localhost:8080", getServer())
	})
}

func TestGetAPIKeyFromCredentials(t *testing.T) {
	origServer, origKey := server, apiKey
	defer func() { server, apiKey = origServer, origKey }()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RAFFLE_API_KEY", "")

	server = "http://raffle.test"
	apiKey = ""
	assert.Empty(t, getAPIKey())

	require.NoError(t, saveCredential("http://raffle.test", ServerCredential{APIKey: testKey}))
	assert.Equal(t, testKey, getAPIKey())

	t.Setenv("RAFFLE_API_KEY", "from-env")
	assert.Equal(t, "from-env", getAPIKey())

	apiKey = "from-flag"
	assert.Equal(t, "from-flag", getAPIKey())
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, projectConfigFile)
	var out bytes.Buffer

	require.NoError(t, runConfigInit(&out, path, "http://raffle.test", testPlayer, false))
	assert.Contains(t, out.String(), "Created")

	origCfg := cfgFile
	defer func() { cfgFile = origCfg }()
	cfgFile = path

	config, loaded, err := loadProjectConfig()
	require.NoError(t, err)
	assert.Equal(t, path, loaded)
	assert.Equal(t, "http://raffle.test", config.Server)
	assert.Equal(t, testPlayer, config.Player)
	assert.Equal(t, testPlayer, getPlayer(""))
	assert.Equal(t, "0xother", getPlayer("0xother"))

	err = runConfigInit(&out, path, "http://raffle.test", "", false)
	assert.ErrorContains(t, err, "already exists")
	require.NoError(t, runConfigInit(&out, path, "http://other.test", "", true))

	err = runConfigInit(&out, filepath.Join(dir, "bad.toml"), "http://raffle.test", "not-an-address", false)
	assert.ErrorContains(t, err, "invalid player")
}

func TestLoadProjectConfigParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("server = "), 0644))

	origCfg := cfgFile
	defer func() { cfgFile = origCfg }()
	cfgFile = path

	_, _, err := loadProjectConfig()
	require.Error(t, err)
	assert.False(t, os.IsNotExist(err))
	assert.Nil(t, loadProjectConfigSilent())
}

func TestStatus(t *testing.T) {
	f, c := newFakeServer(t)
	f.handle(http.MethodGet, "/api/v1/raffle", http.StatusOK, statusJSON)

	var out bytes.Buffer
	require.NoError(t, runStatus(context.Background(), &out, c, false))
	assert.Contains(t, out.String(), "OPEN")
	assert.Contains(t, out.String(), "0.02 ETH")
	assert.NotContains(t, out.String(), "Pending request")

	out.Reset()
	require.NoError(t, runStatus(context.Background(), &out, c, true))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "OPEN", decoded["state"])
}

func TestPlayers(t *testing.T) {
	f, c := newFakeServer(t)
	f.handle(http.MethodGet, "/api/v1/raffle/players", http.StatusOK, `{"players":[],"count":0}`)

	var out bytes.Buffer
	require.NoError(t, runPlayers(context.Background(), &out, c, false))
	assert.Contains(t, out.String(), "No players")

	f.handle(http.MethodGet, "/api/v1/raffle/players", http.StatusOK, `{"players":["`+testPlayer+`"],"count":1}`)
	out.Reset()
	require.NoError(t, runPlayers(context.Background(), &out, c, false))
	assert.Contains(t, out.String(), "INDEX")
	assert.Contains(t, out.String(), testPlayer)
}

func TestEnter(t *testing.T) {
	f, c := newFakeServer(t)
	f.handle(http.MethodGet, "/api/v1/raffle", http.StatusOK, statusJSON)
	f.handle(http.MethodPost, "/api/v1/raffle/entries", http.StatusCreated,
		`{"player":"`+testPlayer+`","amount":"10000000000000000","round":3,"index":2}`)
	ctx := context.Background()

	t.Run("defaults to entrance fee", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runEnter(ctx, &out, c, testPlayer, ""))
		assert.Contains(t, f.body(http.MethodPost, "/api/v1/raffle/entries"), `"amount":"10000000000000000"`)
		assert.Contains(t, out.String(), "Entered round 3 as player #2")
	})

	t.Run("converts units to wei", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runEnter(ctx, &out, c, testPlayer, "0.05eth"))
		assert.Contains(t, f.body(http.MethodPost, "/api/v1/raffle/entries"), `"amount":"50000000000000000"`)
	})

	t.Run("validates input", func(t *testing.T) {
		assert.ErrorContains(t, runEnter(ctx, io.Discard, c, "", "1"), "player is required")
		assert.ErrorContains(t, runEnter(ctx, io.Discard, c, "0x123", "1"), "invalid player")
		assert.ErrorContains(t, runEnter(ctx, io.Discard, c, testPlayer, "lots"), "invalid amount")
	})

	t.Run("maps server errors", func(t *testing.T) {
		f.handle(http.MethodPost, "/api/v1/raffle/entries", http.StatusBadRequest,
			`{"error":{"code":"NOT_ENOUGH_ETH_ENTERED","message":"not enough"}}`)
		assert.ErrorContains(t, runEnter(ctx, io.Discard, c, testPlayer, "1wei"), "below the entrance fee")

		f.handle(http.MethodPost, "/api/v1/raffle/entries", http.StatusConflict,
			`{"error":{"code":"RAFFLE_NOT_OPEN","message":"calculating"}}`)
		assert.ErrorContains(t, runEnter(ctx, io.Discard, c, testPlayer, "1eth"), "calculating a winner")
	})
}

func TestUpkeep(t *testing.T) {
	f, c := newFakeServer(t)
	f.handle(http.MethodGet, "/api/v1/raffle/upkeep", http.StatusOK,
		`{"upkeepNeeded":false,"isOpen":true,"timePassed":false,"hasPlayers":true,"hasBalance":true,
"state":"OPEN","players":1,"balance":"10000000000000000","elapsedSeconds":4}`)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runUpkeepCheck(ctx, &out, c, false))
	assert.Contains(t, out.String(), "Upkeep needed: false")
	assert.Contains(t, out.String(), "4s elapsed")

	f.handle(http.MethodPost, "/api/v1/raffle/upkeep", http.StatusConflict,
		`{"error":{"code":"UPKEEP_NOT_NEEDED","message":"not needed"}}`)
	assert.ErrorContains(t, runUpkeepPerform(ctx, io.Discard, c), "upkeep not needed")

	f.handle(http.MethodPost, "/api/v1/raffle/upkeep", http.StatusAccepted, `{"requestId":7,"state":"CALCULATING"}`)
	out.Reset()
	require.NoError(t, runUpkeepPerform(ctx, &out, c))
	assert.Contains(t, out.String(), "request 7")
}

func TestWinners(t *testing.T) {
	f, c := newFakeServer(t)
	f.handle(http.MethodGet, "/api/v1/raffle/winners", http.StatusOK, `{"data":[
{"round":2,"requestId":2,"winner":"`+testPlayer+`","prize":"40000000000000000","players":4,"randomWord":"9","closedAt":"2026-01-02T03:04:05Z"}],
"pagination":{"limit":1,"hasMore":true,"nextCursor":"abc"}}`)

	var out bytes.Buffer
	require.NoError(t, runWinners(context.Background(), &out, c, client.ListOptions{Limit: 1}, false))
	assert.Contains(t, out.String(), testPlayer)
	assert.Contains(t, out.String(), "0.04")
	assert.Contains(t, out.String(), "--cursor abc")
}

func TestEvents(t *testing.T) {
	f, c := newFakeServer(t)
	f.route(http.MethodGet, "/api/v1/raffle/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "WinnerPicked", r.URL.Query().Get("type"))
		w.Write([]byte(`{"data":[{"id":"e1","type":"WinnerPicked","round":2,"winner":"` + testPlayer + `","createdAt":"2026-01-02T03:04:05Z"}],
"pagination":{"limit":20,"hasMore":false}}`))
	})

	var out bytes.Buffer
	require.NoError(t, runEvents(context.Background(), &out, c, client.ListOptions{Type: "WinnerPicked"}, false))
	assert.Contains(t, out.String(), "winner "+testPlayer)
	assert.NotContains(t, out.String(), "More available")
}

func TestFollowEvents(t *testing.T) {
	f, c := newFakeServer(t)
	f.route(http.MethodGet, "/api/v1/raffle/events/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, ": ping\n\n")
		io.WriteString(w, "id: e1\nevent: RaffleEnter\ndata: {\"id\":\"e1\",\"type\":\"RaffleEnter\",\"round\":1,\"player\":\""+testPlayer+"\",\"amount\":\"10000000000000000\"}\n\n")
	})

	var out bytes.Buffer
	require.NoError(t, runFollowEvents(context.Background(), &out, c, false))
	assert.Contains(t, out.String(), testPlayer+" paid 0.01 ETH")
}

func TestFulfill(t *testing.T) {
	f, c := newFakeServer(t)
	ctx := context.Background()

	f.handle(http.MethodGet, "/api/v1/vrf/requests", http.StatusOK, `{"data":[]}`)
	assert.ErrorContains(t, runFulfill(ctx, io.Discard, c, 0, nil), "no pending requests")

	f.handle(http.MethodGet, "/api/v1/vrf/requests", http.StatusOK, `{"data":[
{"id":5,"subscriptionId":1,"consumer":"0xa1","numWords":1,"requestedAt":"2026-01-02T03:04:05Z"},
{"id":4,"subscriptionId":1,"consumer":"0xa1","numWords":1,"requestedAt":"2026-01-02T03:04:00Z"}]}`)
	f.handle(http.MethodPost, "/api/v1/vrf/requests/4/fulfill", http.StatusOK, `{"requestId":4,"fulfilled":true}`)

	var out bytes.Buffer
	require.NoError(t, runFulfill(ctx, &out, c, 0, nil))
	assert.Equal(t, "Fulfilled request 4\n", out.String())
	assert.Empty(t, f.body(http.MethodPost, "/api/v1/vrf/requests/4/fulfill"))

	f.handle(http.MethodPost, "/api/v1/vrf/requests/9/fulfill", http.StatusOK, `{"requestId":9,"fulfilled":true}`)
	require.NoError(t, runFulfill(ctx, io.Discard, c, 9, []string{"7"}))
	assert.Contains(t, f.body(http.MethodPost, "/api/v1/vrf/requests/9/fulfill"), `"randomWords":["7"]`)

	err := runFulfill(ctx, io.Discard, c, 11, nil)
	assert.ErrorContains(t, err, "request 11")
}

func TestRequestsAndSubscription(t *testing.T) {
	f, c := newFakeServer(t)
	f.handle(http.MethodGet, "/api/v1/vrf/requests", http.StatusOK, `{"data":[]}`)
	f.handle(http.MethodGet, "/api/v1/vrf/subscriptions/1", http.StatusOK,
		`{"id":1,"owner":"0xf39F","balance":"30000000000000000000","requests":2,"consumers":["0xa16E"]}`)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runRequests(ctx, &out, c, false))
	assert.Contains(t, out.String(), "No pending requests")

	out.Reset()
	require.NoError(t, runSubscription(ctx, &out, c, 1, false))
	assert.Contains(t, out.String(), "30 LINK")
	assert.Contains(t, out.String(), "0xa16E")
}

func TestBalanceAndFund(t *testing.T) {
	f, c := newFakeServer(t)
	f.handle(http.MethodGet, "/api/v1/accounts/"+testPlayer, http.StatusOK,
		`{"address":"`+testPlayer+`","balance":"1000000000000000000","balanceEther":"1"}`)
	f.handle(http.MethodPost, "/api/v1/accounts/"+testPlayer+"/fund", http.StatusOK,
		`{"address":"`+testPlayer+`","balance":"3000000000000000000","balanceEther":"3"}`)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runBalance(ctx, &out, c, testPlayer))
	assert.Contains(t, out.String(), "1 ETH")

	out.Reset()
	require.NoError(t, runFund(ctx, &out, c, testPlayer, "2eth"))
	assert.Contains(t, f.body(http.MethodPost, "/api/v1/accounts/"+testPlayer+"/fund"), `"amount":"2000000000000000000"`)
	assert.Contains(t, out.String(), "balance 3 ETH")

	assert.Error(t, runBalance(ctx, io.Discard, c, ""))
	assert.Error(t, runFund(ctx, io.Discard, c, "0xnope", "1"))
}

func TestVersion(t *testing.T) {
	f, c := newFakeServer(t)
	f.handle(http.MethodGet, "/version", http.StatusOK, `{"version":"2.1.0","network":"anvil","chainId":31337}`)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runVersion(ctx, &out, c, "1.4.0"))
	assert.Contains(t, out.String(), "chain 31337")
	assert.Contains(t, out.String(), "differ in major version")

	out.Reset()
	require.NoError(t, runVersion(ctx, &out, c, "2.0.0"))
	assert.Contains(t, out.String(), "newer client")

	out.Reset()
	require.NoError(t, runVersion(ctx, &out, c, "dev"))
	assert.NotContains(t, out.String(), "Warning")
	assert.NotContains(t, out.String(), "newer")
}

func TestWeiToEther(t *testing.T) {
	assert.Equal(t, "0.01", weiToEther("10000000000000000"))
	assert.Equal(t, "0", weiToEther("0"))
	assert.Equal(t, "garbage", weiToEther("garbage"))
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd("1.0.0")
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"status", "enter", "upkeep", "fulfill", "events", "auth", "config", "version"} {
		assert.Contains(t, joined, want)
	}
}
