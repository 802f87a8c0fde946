package config

// Object store backend names.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

const (
	defaultDataDir              = "~/.local/share/quill"
	defaultLogDir               = "~/.local/share/quill/logs"
	defaultAPIBind              = "127.0.0.1:7511"
	defaultLLMBaseURL           = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel             = "anthropic/claude-sonnet-4.5"
	defaultLLMReferer           = "https://github.com/quill-press/quill"
	defaultLLMTitle             = "Quill Manuscript Pipeline"
	defaultLLMTimeoutSeconds    = 600
	defaultLLMRateInPerMTok     = 3.0
	defaultLLMRateOutPerMTok    = 15.0
	defaultWorkers              = 2
	defaultGlobalLLMConcurrency = 16
	defaultPerReportConcurrency = 5
	defaultStageTimeoutSec      = 600
	defaultMaxAttempts          = 3
	defaultRetryBaseSec         = 1
	defaultRetryCapSec          = 30
	defaultStatusTTLSec         = 604800 // 7 days
	defaultDAGVersion           = 1
	defaultVisibilityTimeoutSec = 300
	defaultMaxDeliveries        = 5
	defaultPollIntervalSec      = 2
	defaultErrorRetrySec        = 5
	defaultHeartbeatIntervalSec = 60
	defaultReclaimIntervalSec   = 30
	defaultFreeUSD              = 5
	defaultProUSD               = 50
	defaultEnterpriseUSD        = 500
	defaultGlobalUSD            = 5000
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		ObjectStore: ObjectStore{
			Backend: BackendLocal,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			RateInPerMTok:  defaultLLMRateInPerMTok,
			RateOutPerMTok: defaultLLMRateOutPerMTok,
		},
		Pipeline: Pipeline{
			Workers:              defaultWorkers,
			GlobalLLMConcurrency: defaultGlobalLLMConcurrency,
			PerReportConcurrency: defaultPerReportConcurrency,
			StageTimeoutSec:      defaultStageTimeoutSec,
			MaxAttempts:          defaultMaxAttempts,
			RetryBaseSec:         defaultRetryBaseSec,
			RetryCapSec:          defaultRetryCapSec,
			StatusTTLSec:         defaultStatusTTLSec,
			DAGVersion:           defaultDAGVersion,
		},
		Queue: Queue{
			VisibilityTimeoutSec:  defaultVisibilityTimeoutSec,
			MaxDeliveries:         defaultMaxDeliveries,
			PollIntervalSec:       defaultPollIntervalSec,
			ErrorRetryIntervalSec: defaultErrorRetrySec,
			HeartbeatIntervalSec:  defaultHeartbeatIntervalSec,
			ReclaimIntervalSec:    defaultReclaimIntervalSec,
		},
		Budget: Budget{
			FreeUSD:         defaultFreeUSD,
			ProUSD:          defaultProUSD,
			EnterpriseUSD:   defaultEnterpriseUSD,
			GlobalUSD:       defaultGlobalUSD,
			AlertThresholds: []int{50, 75, 90, 100},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
