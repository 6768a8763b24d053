package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	t.Setenv("OFFER_INGEST_TEST_DB_PASSWORD", "s3cret")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "s3cret", cfg.Database.Password)
				assert.Equal(t, "offers_db", cfg.Database.Database)
				assert.Equal(t, "ingestions_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "ingestions_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "ingestions_dlx", cfg.RabbitMQ.Queue.DeadLetterExchange)
				assert.Equal(t, "offer-ingest", cfg.App.Name)
				assert.Equal(t, 2*time.Minute, cfg.Worker.DefaultTimeout)
				assert.Equal(t, "gemini-1.5-flash", cfg.Extraction.Model)
				assert.Equal(t, 8, cfg.Ingest.MaxParallel)
				assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 1, cfg.Database.ConnectAttempts)
	assert.Equal(t, "/", cfg.RabbitMQ.VHost)
	assert.Equal(t, "direct", cfg.RabbitMQ.Exchange.Type)
	assert.Equal(t, "jobOffer", cfg.Ingest.PayloadKey)
	assert.Equal(t, "@every 1m", cfg.Reaper.Schedule)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "offers_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "ingestions_exchange"},
			Queue:    QueueConfig{Name: "ingestions_queue"},
		},
		Worker: WorkerConfig{
			Concurrency:       2,
			DefaultTimeout:    time.Minute,
			DefaultMaxRetries: 3,
			HeartbeatInterval: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Extraction: ExtractionConfig{
			APIKey: "test-key",
			Model:  "gemini-1.5-flash",
		},
		Reaper: ReaperConfig{StaleAfter: time.Minute},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "invalid server port - too low", mutate: func(c *Config) { c.Server.Port = 0 }, errString: "invalid server port"},
		{name: "invalid server port - too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errString: "invalid server port"},
		{name: "empty database host", mutate: func(c *Config) { c.Database.Host = "" }, errString: "database host is required"},
		{name: "invalid database port", mutate: func(c *Config) { c.Database.Port = -1 }, errString: "invalid database port"},
		{name: "empty database name", mutate: func(c *Config) { c.Database.Database = "" }, errString: "database name is required"},
		{name: "empty rabbitmq host", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
		{name: "empty exchange name", mutate: func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, errString: "rabbitmq exchange name is required"},
		{name: "empty queue name", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }, errString: "rabbitmq queue name is required"},
		{name: "worker settings are not checked", mutate: func(c *Config) { c.Worker = WorkerConfig{} }},
		{name: "watch outlives write timeout", mutate: func(c *Config) {
			c.Server.WriteTimeout = 15 * time.Second
			c.Server.WatchLimit = 15 * time.Second
		}, errString: "watch_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "server port is not checked", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "empty database name", mutate: func(c *Config) { c.Database.Database = "" }, errString: "database name is required"},
		{name: "empty queue name", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }, errString: "rabbitmq queue name is required"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, errString: "worker concurrency"},
		{name: "zero default timeout", mutate: func(c *Config) { c.Worker.DefaultTimeout = 0 }, errString: "worker default_timeout"},
		{name: "negative max retries", mutate: func(c *Config) { c.Worker.DefaultMaxRetries = -1 }, errString: "worker default_max_retries"},
		{name: "zero heartbeat interval", mutate: func(c *Config) { c.Worker.HeartbeatInterval = 0 }, errString: "worker heartbeat_interval"},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Worker.ShutdownTimeout = 0 }, errString: "worker shutdown_timeout"},
		{name: "missing extraction api key", mutate: func(c *Config) { c.Extraction.APIKey = "" }, errString: "extraction api_key"},
		{name: "missing extraction model", mutate: func(c *Config) { c.Extraction.Model = "" }, errString: "extraction model"},
		{name: "stale_after below heartbeat", mutate: func(c *Config) { c.Reaper.StaleAfter = 5 * time.Second }, errString: "reaper stale_after"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestConnectionStrings(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "offers", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=offers sslmode=disable", db.DSN())

	mq := RabbitMQConfig{Host: "mq", Port: 5672, User: "guest", Password: "guest", VHost: "/"}
	assert.Equal(t, "amqp://guest:guest@mq:5672/", mq.URL())

	mq.VHost = "offers"
	assert.Equal(t, "amqp://guest:guest@mq:5672/offers", mq.URL())
}
