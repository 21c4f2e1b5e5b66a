package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// db is read by request handlers while the connect goroutine is still
// running; the atomic pointer keeps the readiness gate race-free.
var db atomic.Pointer[gorm.DB]

func GetDB() *gorm.DB {
	return db.Load()
}

func init() {
	// Load env from .env
	godotenv.Load()
	// Do NOT block startup in init() waiting for DB.
	// The desktop shell expects the API to be listening before the data file is ready.
}

// ConnectDatabaseWithRetry connects and sets the global DB.
// Call this from main() AFTER the HTTP server is listening.
//
// Driver selection:
//   - default: SQLite file DB (single-user desktop deployment), path from DB_PATH
//     (default "stockbill.db"), or ":memory:" for tests.
//   - DB_DRIVER=mysql: networked MySQL, configured via DB_USER/DB_PASSWORD/DB_HOST/
//     DB_PORT/DB_NAME, with unix-socket support when DB_HOST is a /cloudsql/ path.
func ConnectDatabaseWithRetry() {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))

	var attempt int
	for {
		attempt++
		var gormDB *gorm.DB
		var err error
		switch driver {
		case "mysql":
			gormDB, err = gorm.Open(mysql.Open(mysqlDSN()), initConfig())
		default:
			dbPath := strings.TrimSpace(os.Getenv("DB_PATH"))
			if dbPath == "" {
				dbPath = "stockbill.db"
			}
			gormDB, err = gorm.Open(sqlite.Open(dbPath), initConfig())
		}
		if err == nil {
			if sqlDB, derr := gormDB.DB(); derr == nil && sqlDB != nil {
				if driver == "mysql" {
					maxOpen := intFromEnv("DB_MAX_OPEN_CONNS", 50)
					maxIdle := intFromEnv("DB_MAX_IDLE_CONNS", 25)
					connMaxLife := time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second
					connMaxIdle := time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second

					if maxOpen > 0 {
						sqlDB.SetMaxOpenConns(maxOpen)
					}
					if maxIdle >= 0 {
						sqlDB.SetMaxIdleConns(maxIdle)
					}
					if connMaxLife > 0 {
						sqlDB.SetConnMaxLifetime(connMaxLife)
					}
					if connMaxIdle > 0 {
						sqlDB.SetConnMaxIdleTime(connMaxIdle)
					}
				} else {
					// Single writer: one connection keeps SQLite busy-errors out of the picture.
					sqlDB.SetMaxOpenConns(1)
				}
			}

			if pluginErr := gormDB.Use(otelgorm.NewPlugin()); pluginErr != nil {
				log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
			}
			db.Store(gormDB)
			log.Printf("connected to database (driver=%s attempt=%d)", driverName(driver), attempt)
			return
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}

func driverName(driver string) string {
	if driver == "" {
		return "sqlite"
	}
	return driver
}

func mysqlDSN() string {
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")

	network := "tcp"
	address := fmt.Sprintf("%s:%s", dbHost, dbPort)

	// When DB_HOST is "/cloudsql/<CONNECTION_NAME>", connect using the Unix domain
	// socket provided by the Cloud SQL Auth Proxy.
	if strings.HasPrefix(dbHost, "/cloudsql/") {
		network = "unix"
		address = dbHost
	}

	return fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true",
		dbUser,
		dbPassword,
		network,
		address,
		dbName,
	)
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// InitConfig Initialize Config
func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
	return newLogger
}

// InitNamingStrategy Init NamingStrategy
func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
