package main

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"quadrantd/api"
	"quadrantd/domain"
	"quadrantd/storage"
	"quadrantd/watch"
)

// changeFanout forwards commit notifications to the live-update hub and
// rewrites the Redis listing cache for the touched quadrants. The refresh
// runs on its own goroutine; notifiers must not block the committing caller.
type changeFanout struct {
	hub   *watch.Hub
	cache *storage.QuadrantCache
}

func (f *changeFanout) TasksChanged(quadrants ...domain.Quadrant) {
	f.hub.TasksChanged(quadrants...)
	if f.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.cache.Refresh(ctx, quadrants...)
	}()
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		log.Fatal("missing DB_PATH")
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	var cache *storage.QuadrantCache
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		ttl := 12 * time.Hour
		if v := os.Getenv("CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid CACHE_TTL: %v", err)
			}
			ttl = d
		}
		cache = storage.NewQuadrantCache(store, redisClient(redisConn), ttl)
	}

	hub := watch.NewHub()
	svc := domain.NewTaskService(store, domain.WithNotifier(&changeFanout{hub: hub, cache: cache}))

	sweepInterval := time.Hour
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid SWEEP_INTERVAL: %v", err)
		}
		sweepInterval = d
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runOverdueSweeper(ctx, svc, sweepInterval)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	logger := log.New()
	auth := api.NewAuth(os.Getenv("AUTH_SHARED_SECRET"))
	if !auth.Enabled() {
		log.Warn("AUTH_SHARED_SECRET not set, serving without authentication")
	}

	var listings api.QuadrantLister
	if cache != nil {
		listings = cache
	}
	api.Register(e, svc, listings, hub, auth, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("LISTEN_ADDR"); ok {
		listenAddr = val
	}
	e.Logger.Fatal(e.Start(listenAddr))
}

// redisClient parses either a redis URL or the comma-separated
// "host:port,password=...,ssl=true" form.
func redisClient(conn string) *redis.Client {
	opts, err := redis.ParseURL(conn)
	if err != nil {
		parts := strings.Split(conn, ",")
		opts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				opts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					opts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	return redis.NewClient(opts)
}
