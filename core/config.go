package core

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
		DisableReqLogs     bool
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	NumberingConfig struct {
		RollStartDefault    int
		SecretStartDefault  int
		PreviewDisplayLimit int
	}

	EmailConfig struct {
		DefaultFromEmail string
		SendgridAPIKey   string
		NotifyAddress    string
	}

	ClientConfig struct {
		BaseURL string
		Token   string
		Timeout time.Duration
	}

	Config struct {
		Debug        bool
		TestMode     bool
		Env          string
		Build        string
		AppName      string
		SecretKey    string
		RollbarToken string

		Server    ServerConfig
		Database  DatabaseConfig
		Numbering NumberingConfig
		Email     EmailConfig
		Client    ClientConfig
	}
)

// Address returns the "host:port" the database listens on.
func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
}

// NewConfig loads config/.env.<env> (if present) then reads settings from the environment.
// Variables are prefixed with the uppercased env, eg. DEV_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Nambari")
	v.SetDefault("secretKey", "k2#-uv1m@8qz(r0b!x^6ne%p+c7w$t3yh5=9ld)j4s&a_gof")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "nambari")
	v.SetDefault("database.user", "nambari")
	v.SetDefault("database.password", "nambari")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("numbering.rollStartDefault", 1001)
	v.SetDefault("numbering.secretStartDefault", 1)
	v.SetDefault("numbering.previewDisplayLimit", 50)

	v.SetDefault("email.defaultFromEmail", "noreply@localhost")
	v.SetDefault("email.sendgridApiKey", "")
	v.SetDefault("email.notifyAddress", "")

	v.SetDefault("client.baseUrl", "http://localhost:8000")
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout", 30*time.Second)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		Env:          env,
		Build:        v.GetString("build"),
		AppName:      v.GetString("appName"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			Address:            v.GetString("server.address"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
			DisableReqLogs:     v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Numbering: NumberingConfig{
			RollStartDefault:    v.GetInt("numbering.rollStartDefault"),
			SecretStartDefault:  v.GetInt("numbering.secretStartDefault"),
			PreviewDisplayLimit: v.GetInt("numbering.previewDisplayLimit"),
		},
		Email: EmailConfig{
			DefaultFromEmail: v.GetString("email.defaultFromEmail"),
			SendgridAPIKey:   v.GetString("email.sendgridApiKey"),
			NotifyAddress:    v.GetString("email.notifyAddress"),
		},
		Client: ClientConfig{
			BaseURL: v.GetString("client.baseUrl"),
			Token:   v.GetString("client.token"),
			Timeout: v.GetDuration("client.timeout"),
		},
	}
}

// NewTestConfig returns a Config suitable for unit tests; nothing is read from the environment.
func NewTestConfig() *Config {
	return &Config{
		Debug:     false,
		TestMode:  true,
		Env:       "TEST",
		Build:     "test",
		AppName:   "Nambari",
		SecretKey: "secret",
		Server: ServerConfig{
			Address:            ":0",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: 10 * time.Minute,
			DisableReqLogs:     true,
		},
		Numbering: NumberingConfig{
			RollStartDefault:    1001,
			SecretStartDefault:  1,
			PreviewDisplayLimit: 50,
		},
		Email: EmailConfig{DefaultFromEmail: "noreply@localhost"},
	}
}

func (conf *Config) String() string {
	return fmt.Sprintf("%s env=%s build=%s debug=%t", conf.AppName, conf.Env, conf.Build, conf.Debug)
}
