package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env       string // DEV (local; default), TEST, QA, PROD
		Build     string
		Debug     bool
		TestMode  bool
		AppName   string
		SecretKey string
		WorkDir   string

		RollbarToken              string
		SendgridApiKey            string
		defaultFromEmail          string
		PasswordResetTimeoutDelta time.Duration
		FrontendBaseURL           string

		Database DatabaseConfig
		Server   ServerConfig
		Blob     BlobConfig
		Client   ClientConfig
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          int
		Name          string // sqlite: file path
		DisableTLS    bool
	}

	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetRate         time.Duration // min interval between two reset requests per address
	}

	BlobConfig struct {
		Driver        string // memory | s3
		Bucket        string
		Region        string
		Endpoint      string
		PublicBaseURL string
	}

	ClientConfig struct {
		APIBaseURL  string
		LocatorURL  string
		SessionFile string
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
}

func (conf *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: conf.AppName, Address: conf.defaultFromEmail}
}

// NewConfig loads the configuration for the current ENV.
// Values are read from `<ENV>_*` environment variables, after loading `config/.env.<env>` if it exists.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Mon Quartier")
	v.SetDefault("secretKey", "3n*s9v#k2=qm!x7l%p_a)wz8c(4rj+0t&hdy6e5gu^bf1o@i")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("frontendBaseURL", "http://localhost:3000")

	v.SetDefault("db_engine", "postgres")
	v.SetDefault("db_user", "monquartier")
	v.SetDefault("db_password", "monquartier")
	v.SetDefault("db_adminUser", "postgres")
	v.SetDefault("db_adminPassword", "postgres")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "monquartier")
	v.SetDefault("db_disableTLS", true)

	v.SetDefault("server_host", "0.0.0.0:8000")
	v.SetDefault("server_debugHost", "0.0.0.0:4000")
	v.SetDefault("server_shutdownTimeout", 5*time.Second)
	v.SetDefault("server_jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server_jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("server_passwordResetRate", time.Minute)

	v.SetDefault("blob_driver", "memory")
	v.SetDefault("blob_bucket", "images")
	v.SetDefault("blob_region", "eu-west-3")
	v.SetDefault("blob_endpoint", "")
	v.SetDefault("blob_publicBaseURL", "http://localhost:8000/media")

	v.SetDefault("client_apiBaseURL", "")
	v.SetDefault("client_locatorURL", "")
	v.SetDefault("client_sessionFile", filepath.Join(os.TempDir(), "monquartier-session.json"))

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
		v.SetDefault("debug", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:       env,
		Build:     v.GetString("build"),
		Debug:     v.GetBool("debug"),
		TestMode:  v.GetBool("testMode"),
		AppName:   v.GetString("appName"),
		SecretKey: v.GetString("secretKey"),
		WorkDir:   wd,

		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		defaultFromEmail:          v.GetString("defaultFromEmail"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		FrontendBaseURL:           v.GetString("frontendBaseURL"),

		Database: DatabaseConfig{
			Engine:        v.GetString("db_engine"),
			User:          v.GetString("db_user"),
			Password:      v.GetString("db_password"),
			AdminUser:     v.GetString("db_adminUser"),
			AdminPassword: v.GetString("db_adminPassword"),
			Host:          v.GetString("db_host"),
			Port:          v.GetInt("db_port"),
			Name:          v.GetString("db_name"),
			DisableTLS:    v.GetBool("db_disableTLS"),
		},
		Server: ServerConfig{
			Host:                      v.GetString("server_host"),
			DebugHost:                 v.GetString("server_debugHost"),
			ShutdownTimeout:           v.GetDuration("server_shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server_jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server_jwtRefreshExpirationDelta"),
			PasswordResetRate:         v.GetDuration("server_passwordResetRate"),
		},
		Blob: BlobConfig{
			Driver:        v.GetString("blob_driver"),
			Bucket:        v.GetString("blob_bucket"),
			Region:        v.GetString("blob_region"),
			Endpoint:      v.GetString("blob_endpoint"),
			PublicBaseURL: v.GetString("blob_publicBaseURL"),
		},
		Client: ClientConfig{
			APIBaseURL:  v.GetString("client_apiBaseURL"),
			LocatorURL:  v.GetString("client_locatorURL"),
			SessionFile: v.GetString("client_sessionFile"),
		},
	}
}

// NewTestConfig returns a Config suited for tests: debug, test mode and an sqlite in-memory database.
func NewTestConfig() *Config {
	return &Config{
		Env:                       "TEST",
		Build:                     "test",
		Debug:                     true,
		TestMode:                  true,
		AppName:                   "Mon Quartier",
		SecretKey:                 "test-secret",
		defaultFromEmail:          "noreply@localhost",
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		FrontendBaseURL:           "http://localhost:3000",
		Database:                  DatabaseConfig{Engine: "sqlite", Name: ":memory:"},
		Server: ServerConfig{
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        7 * 24 * time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			PasswordResetRate:         time.Minute,
		},
		Blob: BlobConfig{Driver: "memory", Bucket: "images", PublicBaseURL: "http://localhost:8000/media"},
	}
}
