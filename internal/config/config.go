package config

import (
	"strings"
	"time"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	CORS      CORSConfig      `yaml:"cors"`
	Matching  MatchingConfig  `yaml:"matching"`
	Inventory InventoryConfig `yaml:"inventory"`
	Request   RequestConfig   `yaml:"request"`
	SLA       SLAConfig       `yaml:"sla"`
	Routing   RoutingConfig   `yaml:"routing"`
	Redis     RedisConfig     `yaml:"redis"`
	Notify    NotifyConfig    `yaml:"notify"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins   string `yaml:"allowed_origins"   env:"CORS_ALLOWED_ORIGINS"   env-default:"*"`
	AllowedMethods   string `yaml:"allowed_methods"   env:"CORS_ALLOWED_METHODS"   env-default:"GET,POST,PUT,OPTIONS"`
	AllowedHeaders   string `yaml:"allowed_headers"   env:"CORS_ALLOWED_HEADERS"   env-default:"Content-Type,X-Actor-Id,X-Request-Id"`
	AllowCredentials bool   `yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" env-default:"false"`
	MaxAge           int    `yaml:"max_age"           env:"CORS_MAX_AGE"           env-default:"86400"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`

	// RateLimitPerMinute caps API calls per actor (or client IP). Zero disables it.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" env:"SERVER_RATE_LIMIT_PER_MINUTE" env-default:"600"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
	ApplicationName string        `yaml:"application_name"   env:"DATABASE_APPLICATION_NAME"   env-default:"bloodlink"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// MatchingConfig holds donor search and match lifecycle settings.
type MatchingConfig struct {
	DefaultRadiusKm   float64       `yaml:"default_radius_km"  env:"MATCHING_DEFAULT_RADIUS_KM"  env-default:"25"`
	MaxRadiusKm       float64       `yaml:"max_radius_km"      env:"MATCHING_MAX_RADIUS_KM"      env-default:"200"`
	MatchHold         time.Duration `yaml:"match_hold"         env:"MATCHING_MATCH_HOLD"         env-default:"2h"`
	MaxCandidates     int           `yaml:"max_candidates"     env:"MATCHING_MAX_CANDIDATES"     env-default:"50"`
	PoolLimit         int           `yaml:"pool_limit"         env:"MATCHING_POOL_LIMIT"         env-default:"1000"`
	DistanceTimeout   time.Duration `yaml:"distance_timeout"   env:"MATCHING_DISTANCE_TIMEOUT"   env-default:"3s"`
	LookupConcurrency int           `yaml:"lookup_concurrency" env:"MATCHING_LOOKUP_CONCURRENCY" env-default:"8"`
	MaxLocationAge    time.Duration `yaml:"max_location_age"   env:"MATCHING_MAX_LOCATION_AGE"   env-default:"0s"`
	PriorityOrderRaw  string        `yaml:"priority_order"     env:"MATCHING_PRIORITY_ORDER"     env-default:"asc"`

	// PriorityOrder is parsed from PriorityOrderRaw during validation.
	PriorityOrder domain.PriorityOrder `yaml:"-" env:"-"`
}

// InventoryConfig holds unit allocation settings.
type InventoryConfig struct {
	ReservationHold time.Duration `yaml:"reservation_hold" env:"INVENTORY_RESERVATION_HOLD" env-default:"4h"`
	CandidateLimit  int           `yaml:"candidate_limit"  env:"INVENTORY_CANDIDATE_LIMIT"  env-default:"50"`
	AllocateRounds  int           `yaml:"allocate_rounds"  env:"INVENTORY_ALLOCATE_ROUNDS"  env-default:"3"`
}

// RequestConfig holds request intake limits.
type RequestConfig struct {
	MaxQuantity int `yaml:"max_quantity" env:"REQUEST_MAX_QUANTITY" env-default:"50"`
	SweepBatch  int `yaml:"sweep_batch"  env:"REQUEST_SWEEP_BATCH"  env-default:"200"`
}

// SLAConfig holds the per-urgency response targets written by the seeder.
type SLAConfig struct {
	RoutineTargetMinutes   int `yaml:"routine_target_minutes"   env:"SLA_ROUTINE_TARGET_MINUTES"   env-default:"1440"`
	RoutineAlertMinutes    int `yaml:"routine_alert_minutes"    env:"SLA_ROUTINE_ALERT_MINUTES"    env-default:"120"`
	UrgentTargetMinutes    int `yaml:"urgent_target_minutes"    env:"SLA_URGENT_TARGET_MINUTES"    env-default:"120"`
	UrgentAlertMinutes     int `yaml:"urgent_alert_minutes"     env:"SLA_URGENT_ALERT_MINUTES"     env-default:"30"`
	EmergencyTargetMinutes int `yaml:"emergency_target_minutes" env:"SLA_EMERGENCY_TARGET_MINUTES" env-default:"30"`
	EmergencyAlertMinutes  int `yaml:"emergency_alert_minutes"  env:"SLA_EMERGENCY_ALERT_MINUTES"  env-default:"10"`
}

// Configs returns one SLA entry per urgency tier.
func (c SLAConfig) Configs() []domain.SLAConfig {
	return []domain.SLAConfig{
		{Urgency: domain.UrgencyRoutine, TargetMinutes: c.RoutineTargetMinutes, AlertBeforeMinutes: c.RoutineAlertMinutes},
		{Urgency: domain.UrgencyUrgent, TargetMinutes: c.UrgentTargetMinutes, AlertBeforeMinutes: c.UrgentAlertMinutes},
		{Urgency: domain.UrgencyEmergency, TargetMinutes: c.EmergencyTargetMinutes, AlertBeforeMinutes: c.EmergencyAlertMinutes},
	}
}

// RoutingConfig holds distance provider settings.
type RoutingConfig struct {
	Provider          string        `yaml:"provider"           env:"ROUTING_PROVIDER"           env-default:"haversine"`
	BaseURL           string        `yaml:"base_url"           env:"ROUTING_BASE_URL"`
	Profile           string        `yaml:"profile"            env:"ROUTING_PROFILE"            env-default:"driving"`
	Timeout           time.Duration `yaml:"timeout"            env:"ROUTING_TIMEOUT"            env-default:"5s"`
	FailureThreshold  int           `yaml:"failure_threshold"  env:"ROUTING_FAILURE_THRESHOLD"  env-default:"5"`
	SuccessThreshold  int           `yaml:"success_threshold"  env:"ROUTING_SUCCESS_THRESHOLD"  env-default:"2"`
	Cooldown          time.Duration `yaml:"cooldown"           env:"ROUTING_COOLDOWN"           env-default:"30s"`
	FallbackHaversine bool          `yaml:"fallback_haversine" env:"ROUTING_FALLBACK_HAVERSINE" env-default:"false"`
}

// RedisConfig holds the distance cache connection. An empty URL disables it.
type RedisConfig struct {
	URL         string        `yaml:"url"          env:"REDIS_URL"`
	PoolSize    int           `yaml:"pool_size"    env:"REDIS_POOL_SIZE"    env-default:"10"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" env-default:"2s"`
	DistanceTTL time.Duration `yaml:"distance_ttl" env:"REDIS_DISTANCE_TTL" env-default:"24h"`
}

// NotifyConfig holds the event dispatcher settings.
type NotifyConfig struct {
	Kind       string        `yaml:"kind"        env:"NOTIFY_KIND"        env-default:"log"`
	BrokersRaw string        `yaml:"brokers"     env:"NOTIFY_BROKERS"`
	Topic      string        `yaml:"topic"       env:"NOTIFY_TOPIC"       env-default:"bloodlink.events"`
	ClientID   string        `yaml:"client_id"   env:"NOTIFY_CLIENT_ID"   env-default:"bloodlink"`
	Linger     time.Duration `yaml:"linger"      env:"NOTIFY_LINGER"      env-default:"5ms"`
}

// Brokers splits BrokersRaw on commas.
func (c NotifyConfig) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.BrokersRaw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// SweeperConfig holds the background sweep settings.
type SweeperConfig struct {
	Enabled  bool          `yaml:"enabled"  env:"SWEEPER_ENABLED"  env-default:"true"`
	Interval time.Duration `yaml:"interval" env:"SWEEPER_INTERVAL" env-default:"1m"`
}
