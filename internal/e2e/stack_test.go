//go:build e2e

// Package e2e runs the HTTP surface against real PostgreSQL, Redis and Neo4j
// containers and checks that state survives a restart.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/lexicore/internal/api"
	"github.com/nidhogg/lexicore/internal/bus"
	"github.com/nidhogg/lexicore/internal/catalog"
	"github.com/nidhogg/lexicore/internal/coordinator"
	"github.com/nidhogg/lexicore/internal/gateway"
	"github.com/nidhogg/lexicore/internal/review"
	"github.com/nidhogg/lexicore/internal/sediment"
	pgstore "github.com/nidhogg/lexicore/internal/store"
)

// Shared container endpoints, set by TestMain.
var (
	testLogger   *zap.Logger
	testNeo4jURI string
	testPGDSN    string
	testRedisURL string
)

func TestMain(m *testing.M) {
	testLogger = zap.NewNop()
	ctx := context.Background()

	var cleanups []func()
	stop := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}

	uri, cleanup, err := startNeo4j(ctx)
	if err != nil {
		fail(err)
	}
	cleanups = append(cleanups, cleanup)
	testNeo4jURI = uri

	dsn, cleanup, err := startPostgres(ctx)
	if err != nil {
		fail(err)
	}
	cleanups = append(cleanups, cleanup)
	testPGDSN = dsn

	url, cleanup, err := startRedis(ctx)
	if err != nil {
		fail(err)
	}
	cleanups = append(cleanups, cleanup)
	testRedisURL = url

	if err := seedCatalog(ctx); err != nil {
		fail(err)
	}

	code := m.Run()
	stop()
	os.Exit(code)
}

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	cleanup := func() { testcontainers.TerminateContainer(container) }
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("lexicore_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	cleanup := func() { testcontainers.TerminateContainer(container) }
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	cleanup := func() { testcontainers.TerminateContainer(container) }
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	return "redis://" + endpoint, cleanup, nil
}

// seedCatalog copies the sample senses into Neo4j.
func seedCatalog(ctx context.Context) error {
	file, err := catalog.LoadFile("../../data/senses.json")
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	graph, err := catalog.NewNeo4jCatalog(testNeo4jURI, "", "", testLogger)
	if err != nil {
		return err
	}
	defer graph.Close(ctx)
	if err := graph.EnsureSchema(ctx); err != nil {
		return err
	}
	senses, err := file.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range senses {
		if err := graph.Put(ctx, s); err != nil {
			return fmt.Errorf("seed %s: %w", s.ID, err)
		}
	}
	return nil
}

// stack is one running instance of the service.
type stack struct {
	url   string
	core  *coordinator.Coordinator
	relay *bus.RedisRelay
	close func()
}

func startStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	graph, err := catalog.NewNeo4jCatalog(testNeo4jURI, "", "", testLogger)
	if err != nil {
		t.Fatalf("neo4j catalog: %v", err)
	}
	store, err := pgstore.New(ctx, testPGDSN, testLogger)
	if err != nil {
		t.Fatalf("postgres store: %v", err)
	}
	if err := store.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	core, err := coordinator.New(coordinator.Options{
		Review:    review.Config{Seed: 7},
		Catalog:   graph,
		Persister: store,
	}, testLogger)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	if err := core.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	relay, err := bus.NewRedisRelay(testRedisURL, "lexicore:e2e", testLogger)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	relay.Attach(core.Bus)

	announcer := gateway.NewAnnouncer(gateway.NewGateway(testLogger), graph, testLogger)
	announcer.Attach(core.Bus)

	srv := httptest.NewServer(api.NewHandler(core, announcer, relay, testLogger).Router())
	s := &stack{url: srv.URL, core: core, relay: relay}
	var once sync.Once
	s.close = func() {
		once.Do(func() {
			srv.Close()
			core.Close()
			relay.Close()
			store.Close()
			graph.Close(ctx)
		})
	}
	t.Cleanup(s.close)
	return s
}

func (s *stack) post(t *testing.T, path string, body, out interface{}) int {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(s.url+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (s *stack) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(s.url + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestStateSurvivesRestart(t *testing.T) {
	first := startStack(t)

	var created struct {
		ID string `json:"id"`
	}
	if code := first.post(t, "/api/sessions", map[string]interface{}{
		"learner_id": "e2e-learner",
		"sense_ids":  []string{"wander-v-1"},
	}, &created); code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}

	sess, ok := first.core.Scheduler.Session(created.ID)
	if !ok {
		t.Fatal("session not found")
	}
	for _, g := range sess.Games {
		path := fmt.Sprintf("/api/sessions/%s/games/%s/answer", sess.ID, g.ID)
		if code := first.post(t, path, map[string]interface{}{"answer": g.Answer, "elapsed_ms": 2000}, nil); code != http.StatusOK {
			t.Fatalf("answer %s: status %d", g.ID, code)
		}
	}
	if code := first.post(t, "/api/sessions/"+sess.ID+"/complete", nil, nil); code != http.StatusOK {
		t.Fatalf("complete: status %d", code)
	}

	fb := map[string]string{"user_id": "e2e-voter", "target_id": "wander-v-1", "type": "UPVOTE"}
	if code := first.post(t, "/api/feedback", fb, nil); code != http.StatusOK {
		t.Fatalf("feedback: status %d", code)
	}
	if code := first.post(t, "/api/discoveries", map[string]string{"user_id": "e2e-learner", "target_id": "wander-v-1"}, nil); code != http.StatusOK {
		t.Fatalf("discovery: status %d", code)
	}

	var before review.MasteryRecord
	first.get(t, "/api/learners/e2e-learner/mastery/wander-v-1", &before)
	first.close()

	second := startStack(t)

	var after review.MasteryRecord
	if code := second.get(t, "/api/learners/e2e-learner/mastery/wander-v-1", &after); code != http.StatusOK {
		t.Fatalf("mastery after restart: status %d", code)
	}
	if after.Level != before.Level || after.ReviewCount != before.ReviewCount {
		t.Errorf("mastery after restart = %+v, want %+v", after, before)
	}

	var meta sediment.MetaData
	second.get(t, "/api/meta/wander-v-1", &meta)
	if meta.Upvotes != 1 || meta.FirstDiscoverer != "e2e-learner" {
		t.Errorf("meta after restart = %+v", meta)
	}

	// The one-vote rule survives the restart.
	if code := second.post(t, "/api/feedback", fb, nil); code != http.StatusConflict {
		t.Errorf("repeat vote after restart: status %d, want 409", code)
	}
}

func TestRelayMirrorsReviewEvents(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()

	var created struct {
		ID string `json:"id"`
	}
	if code := s.post(t, "/api/sessions", map[string]interface{}{
		"learner_id": "relay-learner",
		"sense_ids":  []string{"eat-v-1"},
	}, &created); code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	if code := s.post(t, "/api/sessions/"+created.ID+"/complete", nil, nil); code != http.StatusOK {
		t.Fatalf("complete: status %d", code)
	}

	msgs, err := s.relay.Tail(ctx, 20)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	seen := make(map[bus.EventType]bool)
	for _, m := range msgs {
		seen[m.Type] = true
	}
	for _, want := range []bus.EventType{bus.ReviewSessionStarted, bus.MasteryUpdated, bus.ReviewSessionCompleted} {
		if !seen[want] {
			t.Errorf("relay missing %s", want)
		}
	}

	var relayed []map[string]interface{}
	if code := s.get(t, "/api/bus/relay?count=5", &relayed); code != http.StatusOK || len(relayed) == 0 {
		t.Errorf("relay endpoint: status %d, %d messages", code, len(relayed))
	}
}
