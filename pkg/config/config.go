package config

import (
	"os"
	"strconv"
)

// Config holds coordinator configuration.
type Config struct {
	Port           string
	LogLevel       string
	StateBackend   string // "file" | "sqlite"
	StatePath      string
	Network        string // "mainnet" | "testnet"
	TonEndpoint    string
	ContractAddr   string
	OwnerID        string
	WalletAddress  string
	WalletSecret   string
	FacilitatorURL string
	APIToken       string
	RedisURL       string
	EnvelopeDB     string // Postgres DSN; empty keeps envelopes in the document store
	WebhookURL     string
	OTLPEndpoint   string
	ProfilesDir    string
	PollSeconds    int
	FailOpen       bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	backend := os.Getenv("STATE_BACKEND")
	if backend == "" {
		backend = "file"
	}

	statePath := os.Getenv("STATE_PATH")
	if statePath == "" {
		statePath = "./data"
	}

	network := os.Getenv("TON_NETWORK")
	if network == "" {
		network = "testnet"
	}

	endpoint := os.Getenv("TON_ENDPOINT")
	if endpoint == "" {
		// Default to the public testnet API
		endpoint = "https://testnet.toncenter.com/api/v2"
	}

	pollSeconds := 15
	if v := os.Getenv("POLL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pollSeconds = n
		}
	}

	failOpen := os.Getenv("FACILITATOR_FAIL_OPEN") == "true"

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		StateBackend:   backend,
		StatePath:      statePath,
		Network:        network,
		TonEndpoint:    endpoint,
		ContractAddr:   os.Getenv("CONTRACT_ADDRESS"),
		OwnerID:        os.Getenv("OWNER_ID"),
		WalletAddress:  os.Getenv("WALLET_ADDRESS"),
		WalletSecret:   os.Getenv("WALLET_SECRET"),
		FacilitatorURL: os.Getenv("FACILITATOR_URL"),
		APIToken:       os.Getenv("API_TOKEN"),
		RedisURL:       os.Getenv("REDIS_URL"),
		EnvelopeDB:     os.Getenv("ENVELOPE_DB_URL"),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		ProfilesDir:    os.Getenv("PROFILES_DIR"),
		PollSeconds:    pollSeconds,
		FailOpen:       failOpen,
	}
}
