package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// AppendOnlyTables hold the audit trail of clients and acts; rows are
// inserted but never updated or deleted through gorm.
var AppendOnlyTables = []string{"client_events", "averbacoes"}

var db *gorm.DB

func GetDB() *gorm.DB {
	return db
}

func init() {
	godotenv.Load()
}

// registryDSN builds the MySQL DSN from DB_* variables.
// DB_HOST=/cloudsql/<CONNECTION_NAME> switches to a unix socket.
func registryDSN() string {
	cfg := mysqlDriver.NewConfig()
	cfg.User = os.Getenv("DB_USER")
	cfg.Passwd = os.Getenv("DB_PASSWORD")
	cfg.DBName = os.Getenv("DB_NAME")
	cfg.ParseTime = true
	cfg.MultiStatements = true
	cfg.Collation = "utf8mb4_unicode_ci"
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	host := os.Getenv("DB_HOST")
	if strings.HasPrefix(host, "/cloudsql/") {
		cfg.Net = "unix"
		cfg.Addr = host
	} else {
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%s", host, EnvString("DB_PORT", "3306"))
	}
	return cfg.FormatDSN()
}

type poolSettings struct {
	maxOpen, maxIdle      int
	maxLifetime, idleTime time.Duration
}

func poolFromEnv() poolSettings {
	return poolSettings{
		maxOpen:     EnvInt("DB_MAX_OPEN_CONNS", 20),
		maxIdle:     EnvInt("DB_MAX_IDLE_CONNS", 10),
		maxLifetime: time.Duration(EnvInt("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
		idleTime:    time.Duration(EnvInt("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second,
	}
}

// ConnectDatabaseWithRetry blocks until MySQL answers, then installs the
// tracing and append-only plugins. Call it after the listener is up.
func ConnectDatabaseWithRetry() {
	dsn := registryDSN()
	fields := logrus.Fields{"field": "database"}

	for attempt := 1; ; attempt++ {
		conn, err := gorm.Open(mysql.Open(dsn), gormConfig())
		if err == nil {
			if err = configure(conn, poolFromEnv()); err == nil {
				db = conn
				GetLogger().WithFields(fields).WithField("attempt", attempt).Info("connected to database")
				return
			}
		}
		sleep := min(time.Second*time.Duration(1<<min(attempt, 5)), 30*time.Second)
		GetLogger().WithFields(fields).WithField("attempt", attempt).
			Warn("database unavailable; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}
}

func configure(conn *gorm.DB, pool poolSettings) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(pool.maxOpen)
	sqlDB.SetMaxIdleConns(pool.maxIdle)
	sqlDB.SetConnMaxLifetime(pool.maxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.idleTime)

	if err := conn.Use(otelgorm.NewPlugin()); err != nil {
		return fmt.Errorf("otelgorm plugin: %w", err)
	}
	if err := conn.Use(NewAppendOnlyGuardPlugin(AppendOnlyTables...)); err != nil {
		return fmt.Errorf("append-only plugin: %w", err)
	}
	return nil
}

// IsDuplicateKey reports a MySQL 1062 (unique index violation).
func IsDuplicateKey(err error) bool {
	var me *mysqlDriver.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{LogLevel: logger.Error, SlowThreshold: time.Second},
		),
		NamingStrategy: schema.NamingStrategy{},
	}
}
