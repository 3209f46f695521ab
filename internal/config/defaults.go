package config

const (
	defaultFrameRate        = "25"
	defaultUrgency          = "asap"
	defaultQuality          = "default"
	defaultPlanningChunkMS  = 200
	defaultLookAheadChunks  = 2
	defaultTickIntervalMS   = 20
	defaultProvider         = "pool"
	defaultMaxBuffers       = 64
	defaultAcquireTimeoutMS = 500
	defaultWorkers          = 4
	defaultQueueSize        = 256
	defaultJournalPath      = "~/.local/share/framejobs/journal.db"
	defaultStatusBind       = "127.0.0.1:7488"
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Engine: Engine{
			FrameRate:       defaultFrameRate,
			Urgency:         defaultUrgency,
			Quality:         defaultQuality,
			PlanningChunkMS: defaultPlanningChunkMS,
			LookAheadChunks: defaultLookAheadChunks,
			TickIntervalMS:  defaultTickIntervalMS,
		},
		Buffers: Buffers{
			Provider:         defaultProvider,
			MaxBuffers:       defaultMaxBuffers,
			AcquireTimeoutMS: defaultAcquireTimeoutMS,
		},
		Workers: Workers{
			Count:     defaultWorkers,
			QueueSize: defaultQueueSize,
		},
		Journal: Journal{
			Enabled: true,
			Path:    defaultJournalPath,
		},
		Status: Status{
			Bind: defaultStatusBind,
		},
		Log: Log{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
