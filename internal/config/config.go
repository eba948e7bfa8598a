/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// LedgerBackend selects the slot ledger implementation.
type LedgerBackend string

const (
	LedgerSui    LedgerBackend = "sui"
	LedgerMemory LedgerBackend = "memory"
)

// EventBusBackend selects how events reach other instances.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusNATS   EventBusBackend = "nats"
	EventBusRedis  EventBusBackend = "redis"
)

// Auction close strategies for batch-created slots.
const (
	StrategyUniform = "uniform"
	StrategyPerSlot = "per_slot"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	JWTTTL        time.Duration
	MetricsBind   string

	// Ledger
	LedgerBackend    LedgerBackend
	SuiRPCURL        string
	SuiPackageID     string
	SuiClockObjectID string
	SuiEventPageSize int
	SuiEventMaxPages int
	RelayURL         string
	LedgerTimeout    time.Duration
	GasBudget        uint64

	// Auction defaults applied at the API edge
	SlotDuration         time.Duration
	ContractSlotDuration time.Duration
	ShiftDuration        time.Duration
	AuctionWindow        time.Duration
	AuctionStrategy      string
	MinBidUnits          uint64
	MaxSlotsPerBatch     int
	ClockMargin          time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string
	CacheEnabled          bool
	CacheTTL              time.Duration
	EventBus              EventBusBackend
	NATSURL               string
	NATSToken             string

	// Background workers
	SettlementEnabled  bool
	SettlementInterval time.Duration
	MonitorInterval    time.Duration

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	slotSeconds := getEnvIntAny([]string{"SLOTMARKET_SLOT_SECONDS", "TIMEBID_SLOT_SECONDS"}, 60)

	cfg := &Config{
		Environment:   getEnvAny([]string{"SLOTMARKET_ENV", "TIMEBID_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"SLOTMARKET_HTTP_BIND", "TIMEBID_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"SLOTMARKET_HTTP_PORT", "TIMEBID_HTTP_PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"SLOTMARKET_DB_BACKEND", "TIMEBID_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"SLOTMARKET_DB_DSN", "TIMEBID_DB_DSN"}, "file:slotmarket.db?_busy_timeout=5000"),
		JWTSigningKey: getEnvAny([]string{"SLOTMARKET_JWT_SIGNING_KEY", "TIMEBID_JWT_SIGNING_KEY"}, ""),
		JWTTTL:        time.Duration(getEnvIntAny([]string{"SLOTMARKET_JWT_TTL_MINUTES"}, 24*60)) * time.Minute,
		MetricsBind:   getEnvAny([]string{"SLOTMARKET_METRICS_BIND", "TIMEBID_METRICS_BIND"}, "127.0.0.1:9000"),

		LedgerBackend:    LedgerBackend(getEnvAny([]string{"SLOTMARKET_LEDGER_BACKEND"}, string(LedgerSui))),
		SuiRPCURL:        getEnvAny([]string{"SLOTMARKET_SUI_RPC_URL", "SUI_RPC_URL"}, "https://fullnode.testnet.sui.io:443"),
		SuiPackageID:     getEnvAny([]string{"SLOTMARKET_SUI_PACKAGE_ID", "NEXT_PUBLIC_TIME_AUCTION_PACKAGE_ID"}, ""),
		SuiClockObjectID: getEnvAny([]string{"SLOTMARKET_SUI_CLOCK_OBJECT_ID"}, "0x6"),
		SuiEventPageSize: getEnvIntAny([]string{"SLOTMARKET_SUI_EVENT_PAGE_LIMIT"}, 50),
		SuiEventMaxPages: getEnvIntAny([]string{"SLOTMARKET_SUI_EVENT_MAX_PAGES"}, 20),
		RelayURL:         getEnvAny([]string{"SLOTMARKET_RELAY_URL"}, ""),
		LedgerTimeout:    time.Duration(getEnvIntAny([]string{"SLOTMARKET_LEDGER_TIMEOUT_SECONDS"}, 10)) * time.Second,
		GasBudget:        uint64(getEnvIntAny([]string{"SLOTMARKET_GAS_BUDGET"}, 0)),

		SlotDuration:         time.Duration(slotSeconds) * time.Second,
		ContractSlotDuration: time.Duration(getEnvIntAny([]string{"SLOTMARKET_CONTRACT_SLOT_SECONDS"}, slotSeconds)) * time.Second,
		ShiftDuration:        time.Duration(getEnvIntAny([]string{"SLOTMARKET_SHIFT_MINUTES", "TIMEBID_SHIFT_MINUTES"}, 4*60)) * time.Minute,
		AuctionWindow:        time.Duration(getEnvIntAny([]string{"SLOTMARKET_AUCTION_WINDOW_MINUTES", "TIMEBID_AUCTION_WINDOW_MINUTES"}, 24*60)) * time.Minute,
		AuctionStrategy:      strings.ToLower(getEnvAny([]string{"SLOTMARKET_AUCTION_STRATEGY"}, StrategyUniform)),
		MinBidUnits:          uint64(getEnvIntAny([]string{"SLOTMARKET_MIN_BID_UNITS"}, 10_000)),
		MaxSlotsPerBatch:     getEnvIntAny([]string{"SLOTMARKET_MAX_SLOTS_PER_BATCH"}, 512),
		ClockMargin:          time.Duration(getEnvIntAny([]string{"SLOTMARKET_CLOCK_MARGIN_SECONDS"}, 30)) * time.Second,

		TracingEnabled:    getEnvBoolAny([]string{"SLOTMARKET_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"SLOTMARKET_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"SLOTMARKET_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"SLOTMARKET_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"SLOTMARKET_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"SLOTMARKET_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"SLOTMARKET_REDIS_DB", "REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"SLOTMARKET_INSTANCE_ID"}, ""),
		CacheEnabled:          getEnvBoolAny([]string{"SLOTMARKET_CACHE_ENABLED"}, false),
		CacheTTL:              time.Duration(getEnvIntAny([]string{"SLOTMARKET_CACHE_TTL_SECONDS"}, 3)) * time.Second,
		EventBus:              EventBusBackend(strings.ToLower(getEnvAny([]string{"SLOTMARKET_EVENT_BUS"}, string(EventBusMemory)))),
		NATSURL:               getEnvAny([]string{"SLOTMARKET_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		NATSToken:             getEnvAny([]string{"SLOTMARKET_NATS_TOKEN"}, ""),

		SettlementEnabled:  getEnvBoolAny([]string{"SLOTMARKET_SETTLEMENT_ENABLED"}, true),
		SettlementInterval: time.Duration(getEnvIntAny([]string{"SLOTMARKET_SETTLEMENT_INTERVAL_SECONDS"}, 30)) * time.Second,
		MonitorInterval:    time.Duration(getEnvIntAny([]string{"SLOTMARKET_MONITOR_INTERVAL_SECONDS"}, 5)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported database backend %q", c.DBBackend))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("SLOTMARKET_DB_DSN must be provided"))
	}
	if c.JWTSigningKey == "" {
		errs = append(errs, errors.New("SLOTMARKET_JWT_SIGNING_KEY must be provided"))
	}

	switch c.LedgerBackend {
	case LedgerSui:
		if c.SuiRPCURL == "" {
			errs = append(errs, errors.New("SLOTMARKET_SUI_RPC_URL must be provided for the sui ledger"))
		}
		if c.SuiPackageID == "" {
			errs = append(errs, errors.New("SLOTMARKET_SUI_PACKAGE_ID must be provided for the sui ledger"))
		}
	case LedgerMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("the memory ledger cannot be used in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported ledger backend %q", c.LedgerBackend))
	}

	switch c.EventBus {
	case EventBusMemory, EventBusNATS, EventBusRedis:
	default:
		errs = append(errs, fmt.Errorf("unsupported event bus %q", c.EventBus))
	}

	if c.AuctionStrategy != StrategyUniform && c.AuctionStrategy != StrategyPerSlot {
		errs = append(errs, fmt.Errorf("unsupported auction strategy %q", c.AuctionStrategy))
	}
	if c.SlotDuration <= 0 {
		errs = append(errs, errors.New("slot duration must be positive"))
	} else if c.ShiftDuration%c.SlotDuration != 0 {
		errs = append(errs, fmt.Errorf("shift duration %s is not a multiple of slot duration %s", c.ShiftDuration, c.SlotDuration))
	}
	if c.ShiftDuration <= 0 {
		errs = append(errs, errors.New("shift duration must be positive"))
	}
	if c.AuctionWindow < 0 {
		errs = append(errs, errors.New("auction window must not be negative"))
	}
	if c.ClockMargin < 0 {
		errs = append(errs, errors.New("clock margin must not be negative"))
	}
	if c.AuctionStrategy == StrategyPerSlot && c.AuctionWindow < c.ClockMargin {
		errs = append(errs, fmt.Errorf("per_slot auction window %s is shorter than the clock margin %s", c.AuctionWindow, c.ClockMargin))
	}
	if c.MaxSlotsPerBatch <= 0 {
		errs = append(errs, errors.New("max slots per batch must be positive"))
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing sample rate %v outside [0,1]", c.TracingSampleRate))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// HTTPAddr is the listen address of the API server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"NEXT_PUBLIC_TIME_AUCTION_PACKAGE_ID": "use SLOTMARKET_SUI_PACKAGE_ID",
		"TIMEBID_ENV":                         "use SLOTMARKET_ENV",
		"TIMEBID_JWT_SIGNING_KEY":             "use SLOTMARKET_JWT_SIGNING_KEY",
		"TIMEBID_DB_DSN":                      "use SLOTMARKET_DB_DSN",
		"JWT_SIGNING_KEY":                     "use SLOTMARKET_JWT_SIGNING_KEY",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	sort.Strings(warnings)
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
