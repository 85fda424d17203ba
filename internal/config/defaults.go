package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:            "info",
			HistoryLimit:        10,
			AgentTimeoutSeconds: 120,
			MaxToolSteps:        12,
			Workers:             1,
			QueueSize:           100,
			FallbackReply:       DefaultFallbackReply,
		},
		WhatsApp: WhatsAppConfig{
			APIBase:           "https://graph.facebook.com",
			APIVersion:        "v21.0",
			SendRatePerSecond: 20,
			SendBurst:         5,
		},
		OpenAI: OpenAIConfig{
			APIBase:            "https://api.openai.com/v1",
			Model:              "gpt-4o-mini",
			Temperature:        0.2,
			MaxTokens:          1024,
			TranscriptionModel: "whisper-1",
		},
		Store: StoreConfig{
			Driver:      "sqlite",
			SQLitePath:  "~/.hkbot/hkbot.db",
			AutoMigrate: true,
		},
		Storage: StorageConfig{
			Driver:   "local",
			LocalDir: "~/.hkbot/media",
		},
		Media: MediaConfig{
			DownloadDir:       "~/.hkbot/downloads",
			MaxImageDimension: 2048,
		},
		Directory: DirectoryConfig{
			Path:  "~/.hkbot/people.yaml",
			Watch: true,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3000,
			WebhookPath: "/webhook",
			MetricsPath: "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "hkbot",
		},
	}
}
