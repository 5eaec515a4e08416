package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds all configuration required by the call monitor process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App         AppConfig
	Watch       WatchConfig
	Audio       AudioConfig
	DB          DBConfig
	Redis       RedisConfig
	Transcripts TranscriptConfig
}

type AppConfig struct {
	Env  string
	Port int

	// InstanceID identifies this process as a lease holder.
	// Defaults to hostname plus a random suffix so restarts never reuse an id.
	InstanceID string
}

// WatchConfig controls the call registry.
type WatchConfig struct {
	Dir             string
	ScanInterval    time.Duration
	ActiveThreshold time.Duration
	CleanupGrace    time.Duration
}

// AudioConfig controls tail reading and mixing of raw PCM recordings.
type AudioConfig struct {
	SampleRate    int
	ChunkBytes    int
	LookbackBytes int64
	PollInterval  time.Duration
	StableTicks   int
	MixWait       time.Duration
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// TranscriptConfig controls the ingestion pipeline.
type TranscriptConfig struct {
	Channel            string
	LeaseKey           string
	LeaseTTL           time.Duration
	LeaseRenewInterval time.Duration
	DedupTTL           time.Duration
	DedupLocalSize     int
	AuditLogPath       string
	PersistRetry       bool
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.InstanceID = strings.TrimSpace(os.Getenv("INSTANCE_ID"))

	c.Watch.Dir = strings.TrimSpace(os.Getenv("WATCH_DIR"))
	{
		d, err := optionalDuration("SCAN_INTERVAL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Watch.ScanInterval = d
	}
	{
		d, err := optionalDuration("ACTIVE_THRESHOLD")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Watch.ActiveThreshold = d
	}
	{
		d, err := optionalDuration("CLEANUP_GRACE")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Watch.CleanupGrace = d
	}

	{
		n, err := optionalInt("AUDIO_SAMPLE_RATE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Audio.SampleRate = n
	}
	{
		n, err := optionalInt("AUDIO_CHUNK_BYTES")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Audio.ChunkBytes = n
	}
	{
		n, err := optionalInt("AUDIO_LOOKBACK_BYTES")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Audio.LookbackBytes = int64(n)
	}
	{
		n, err := optionalInt("AUDIO_STABLE_TICKS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Audio.StableTicks = n
	}
	{
		d, err := optionalDuration("AUDIO_POLL_INTERVAL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Audio.PollInterval = d
	}
	{
		d, err := optionalDuration("AUDIO_MIX_WAIT")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Audio.MixWait = d
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Transcripts.Channel = strings.TrimSpace(os.Getenv("TRANSCRIPT_CHANNEL"))
	c.Transcripts.LeaseKey = strings.TrimSpace(os.Getenv("LEASE_KEY"))
	{
		d, err := optionalDuration("LEASE_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Transcripts.LeaseTTL = d
	}
	{
		d, err := optionalDuration("LEASE_RENEW_INTERVAL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Transcripts.LeaseRenewInterval = d
	}
	{
		d, err := optionalDuration("DEDUP_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Transcripts.DedupTTL = d
	}
	{
		n, err := optionalInt("DEDUP_LOCAL_SIZE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Transcripts.DedupLocalSize = n
	}
	c.Transcripts.AuditLogPath = strings.TrimSpace(os.Getenv("AUDIT_LOG_PATH"))
	{
		b, err := optionalBool("PERSIST_RETRY", true)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Transcripts.PersistRetry = b
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults for optional ones.
// It mutates the receiver, so call it on an addressable Config.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "instance"
		}
		c.App.InstanceID = host + "-" + uuid.NewString()[:8]
	}

	errs = append(errs, c.validateWatch()...)
	errs = append(errs, c.validateAudio()...)

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	errs = append(errs, c.validateTranscripts()...)

	return joinErrors(errs)
}

func (c *Config) validateWatch() []error {
	var errs []error
	if c.Watch.Dir == "" {
		errs = append(errs, errors.New("WATCH_DIR is required"))
	}
	if c.Watch.ScanInterval <= 0 {
		c.Watch.ScanInterval = 2 * time.Second
	}
	if c.Watch.ActiveThreshold <= 0 {
		c.Watch.ActiveThreshold = 30 * time.Second
	}
	if c.Watch.CleanupGrace <= 0 {
		c.Watch.CleanupGrace = 5 * time.Minute
	}
	if c.Watch.ScanInterval >= c.Watch.ActiveThreshold {
		errs = append(errs, errors.New("SCAN_INTERVAL must be shorter than ACTIVE_THRESHOLD"))
	}
	return errs
}

func (c *Config) validateAudio() []error {
	var errs []error
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 8000
	}
	if c.Audio.ChunkBytes <= 0 {
		// 200ms of 16-bit mono at the default rate.
		c.Audio.ChunkBytes = 3200
	}
	if c.Audio.ChunkBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("AUDIO_CHUNK_BYTES must be a whole number of 16-bit samples, got %d", c.Audio.ChunkBytes))
	}
	if c.Audio.LookbackBytes <= 0 {
		c.Audio.LookbackBytes = 160000
	}
	if c.Audio.PollInterval <= 0 {
		c.Audio.PollInterval = 150 * time.Millisecond
	}
	if c.Audio.PollInterval < 100*time.Millisecond {
		c.Audio.PollInterval = 100 * time.Millisecond
	}
	if c.Audio.PollInterval > 250*time.Millisecond {
		c.Audio.PollInterval = 250 * time.Millisecond
	}
	if c.Audio.StableTicks <= 0 {
		c.Audio.StableTicks = 20
	}
	if c.Audio.MixWait <= 0 {
		c.Audio.MixWait = 200 * time.Millisecond
	}
	return errs
}

func (c *Config) validateTranscripts() []error {
	var errs []error
	if c.Transcripts.Channel == "" {
		c.Transcripts.Channel = "transcripts"
	}
	if c.Transcripts.LeaseKey == "" {
		c.Transcripts.LeaseKey = "transcripts:leader"
	}
	if c.Transcripts.LeaseTTL <= 0 {
		c.Transcripts.LeaseTTL = 15 * time.Second
	}
	if c.Transcripts.LeaseRenewInterval <= 0 {
		c.Transcripts.LeaseRenewInterval = 5 * time.Second
	}
	if c.Transcripts.LeaseRenewInterval >= c.Transcripts.LeaseTTL {
		errs = append(errs, errors.New("LEASE_RENEW_INTERVAL must be shorter than LEASE_TTL"))
	}
	if c.Transcripts.DedupTTL <= 0 {
		c.Transcripts.DedupTTL = 10 * time.Minute
	}
	if c.Transcripts.DedupLocalSize <= 0 {
		c.Transcripts.DedupLocalSize = 1000
	}
	if c.Transcripts.AuditLogPath == "" {
		c.Transcripts.AuditLogPath = "transcripts-audit.log"
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// MigrateURL is the golang-migrate pgx5 URL for the same database.
func (c Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DB.User),
		url.QueryEscape(c.DB.Password),
		c.DB.Host,
		c.DB.Port,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

// optionalDuration returns 0 for unset values; defaults are applied in Validate().
// Values need a unit ("30s", "150ms").
func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration with a unit (e.g. 30s), got %q", key, v)
	}
	return d, nil
}

func appendParseErr[T any](errs []error, v T, err error) (T, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
