package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Remote holds the connection settings for the remote automation engine.
// Both fields are required before any remote call can be made.
type Remote struct {
	BaseURL string
	APIKey  string
}

// Configured reports whether both the base URL and the API key are present.
func (r Remote) Configured() bool {
	return r.BaseURL != "" && r.APIKey != ""
}

// LoadRemote reads the remote engine settings from FLOW_REMOTE_URL and
// FLOW_REMOTE_API_KEY, loading .env first if present. Missing values are not
// an error here; callers surface ErrNotConfigured on first use instead.
func LoadRemote() Remote {
	_ = godotenv.Load()
	return Remote{
		BaseURL: os.Getenv("FLOW_REMOTE_URL"),
		APIKey:  os.Getenv("FLOW_REMOTE_API_KEY"),
	}
}

// DBConnStr builds a Postgres connection string from the DB_* environment
// variables, mirroring the migrate command's fallback behavior.
func DBConnStr() (string, error) {
	_ = godotenv.Load()
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		return "", fmt.Errorf("incomplete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME required)")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUsername, dbPassword, dbHost, dbPort, dbName), nil
}
