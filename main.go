package main

import (
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"notepad-api/api"
	"notepad-api/auth"
	"notepad-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	var store storage.Client
	switch driver := os.Getenv("STORE_DRIVER"); driver {
	case "", "memory":
		store = storage.NewMemoryStore()
	case "azure":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		usersTableName := os.Getenv("USERS_TABLE")
		tasksTableName := os.Getenv("TASKS_TABLE")
		if connStr == "" || usersTableName == "" || tasksTableName == "" {
			log.Fatal("missing storage config")
		}
		redisConn := os.Getenv("REDIS_CONNECTION_STRING")
		if redisConn == "" {
			log.Fatal("missing redis config")
		}
		rc := redis.NewClient(redisOptions(redisConn))

		ts, err := storage.NewTableStore(storage.TableStoreConfig{
			ConnectionString: connStr,
			UsersTable:       usersTableName,
			TasksTable:       tasksTableName,
			Redis:            rc,
			EventQueue:       os.Getenv("CHANGE_EVENTS_QUEUE"),
		})
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = ts
	default:
		log.Fatalf("unknown STORE_DRIVER %q", driver)
	}

	ttl := 24 * time.Hour
	if v := os.Getenv("AUTH_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid AUTH_TOKEN_TTL: %v", err)
		}
		ttl = d
	}
	var tokens *api.TokenAuth
	if jwksURL := os.Getenv("AUTH_JWKS_URL"); jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		tokens = api.NewJWKSTokenAuth(jwks, os.Getenv("AUTH_AUDIENCE"), os.Getenv("AUTH_ISSUER"))
	} else {
		secret := os.Getenv("AUTH_JWT_SECRET")
		if secret == "" {
			log.Fatal("missing auth config")
		}
		tokens = api.NewTokenAuth([]byte(secret), ttl)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	logger := log.New()
	api.Register(e, store, auth.NewService(store), tokens, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// redisOptions accepts either a redis URL or an Azure style
// host:port,password=...,ssl=true connection string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
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
	return opts
}
